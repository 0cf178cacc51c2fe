// config_reload.go implements debounced configuration hot reload.
// It detects material changes and hands the new config to the callback.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(w.debounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) rememberCurrentHash() {
	data, err := os.ReadFile(w.configPath)
	if err != nil || len(data) == 0 {
		return
	}
	w.mu.Lock()
	w.lastConfigHash = hashBytes(data)
	w.mu.Unlock()
}

func (w *Watcher) reloadConfigIfChanged() bool {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return false
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return false
	}
	newHash := hashBytes(data)

	w.mu.RLock()
	currentHash := w.lastConfigHash
	w.mu.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return false
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if !w.reloadConfig() {
		return false
	}
	w.mu.Lock()
	w.lastConfigHash = newHash
	w.mu.Unlock()
	return true
}

func (w *Watcher) reloadConfig() bool {
	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.mu.Unlock()

	if oldConfig != nil {
		if details := changeDetails(oldConfig, newConfig); len(details) > 0 {
			log.Debugf("config changes detected:")
			for _, d := range details {
				log.Debugf("  %s", d)
			}
		} else {
			log.Debugf("no material config field changes detected")
		}
	}

	log.Info("config successfully reloaded")
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	return true
}

// changeDetails lists the changed settings. Secrets are reported as changed
// without their values.
func changeDetails(oldCfg, newCfg *config.Config) []string {
	var details []string
	add := func(name string, oldValue, newValue any) {
		if fmt.Sprint(oldValue) != fmt.Sprint(newValue) {
			details = append(details, fmt.Sprintf("%s: %v -> %v", name, oldValue, newValue))
		}
	}
	add("port", oldCfg.Port, newCfg.Port)
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("metrics", oldCfg.MetricsEnabled, newCfg.MetricsEnabled)
	add("proxy-url", oldCfg.ProxyURL != "", newCfg.ProxyURL != "")
	add("oauth.base-url", oldCfg.OAuth.BaseURL, newCfg.OAuth.BaseURL)
	add("oauth.client-id", oldCfg.OAuth.ClientID, newCfg.OAuth.ClientID)
	add("oauth.redirect-uri", oldCfg.OAuth.RedirectURI, newCfg.OAuth.RedirectURI)
	add("oauth.scope", oldCfg.OAuth.Scope, newCfg.OAuth.Scope)
	add("oauth.verify-id-token", oldCfg.OAuth.VerifyIDToken, newCfg.OAuth.VerifyIDToken)
	add("session.store", oldCfg.Session.Store, newCfg.Session.Store)
	add("session.ttl", oldCfg.Session.TTL, newCfg.Session.TTL)
	add("exchange.timeout", oldCfg.Exchange.Timeout, newCfg.Exchange.Timeout)
	if !slices.Equal(oldCfg.Exchange.Encodings, newCfg.Exchange.Encodings) {
		details = append(details, fmt.Sprintf("exchange.encodings: %v -> %v", oldCfg.Exchange.Encodings, newCfg.Exchange.Encodings))
	}
	return details
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
