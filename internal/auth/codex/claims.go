package codex

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ClaimsExtractor turns an identity token payload into account details.
// Implementations isolate provider-specific claim layouts.
type ClaimsExtractor interface {
	Extract(payload []byte) AccountInfo
}

// NamespacedClaims reads the standard OIDC claims plus a provider namespace object
// holding organizations, account identifiers and the plan type.
type NamespacedClaims struct {
	Namespace string
}

// NewNamespacedClaims returns an extractor for the given claims namespace.
func NewNamespacedClaims(namespace string) NamespacedClaims {
	return NamespacedClaims{Namespace: strings.TrimSpace(namespace)}
}

// Extract implements ClaimsExtractor.
func (n NamespacedClaims) Extract(payload []byte) AccountInfo {
	root := gjson.ParseBytes(payload)
	info := AccountInfo{
		Email:         root.Get("email").String(),
		Name:          root.Get("name").String(),
		EmailVerified: root.Get("email_verified").Bool(),
		Subject:       root.Get("sub").String(),
	}

	// Namespaces are URLs, so they are looked up as keys rather than gjson paths.
	ns, ok := root.Map()[n.Namespace]
	if !ok || !ns.IsObject() {
		return info
	}

	info.AccountID = ns.Get("chatgpt_account_id").String()
	info.UserID = firstNonEmpty(ns.Get("chatgpt_user_id").String(), ns.Get("user_id").String())
	info.PlanType = ns.Get("chatgpt_plan_type").String()

	orgs := ns.Get("organizations").Array()
	info.Organizations = len(orgs)
	info.Organization = pickOrganization(orgs)
	return info
}

// pickOrganization returns the default-marked organization, else the first one,
// else an empty value.
func pickOrganization(orgs []gjson.Result) Organization {
	if len(orgs) == 0 {
		return Organization{}
	}
	chosen := orgs[0]
	for _, org := range orgs {
		if org.Get("is_default").Bool() {
			chosen = org
			break
		}
	}
	return Organization{
		ID:        chosen.Get("id").String(),
		Title:     chosen.Get("title").String(),
		Role:      chosen.Get("role").String(),
		IsDefault: chosen.Get("is_default").Bool(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
