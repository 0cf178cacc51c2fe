package codex

// callbackPageHTML is shown in the browser after the provider redirects to the loopback listener.
const callbackPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{TITLE}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f5f7;
        }
        .card {
            background: #fff;
            padding: 2rem 2.5rem;
            border-radius: 10px;
            box-shadow: 0 6px 20px rgba(0,0,0,0.08);
            max-width: 460px;
            text-align: center;
        }
        h1 { font-size: 1.3rem; margin-top: 0; }
        p { color: #4b5563; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="card">
        <h1>{{TITLE}}</h1>
        <p>{{BODY}}</p>
    </div>
    <script>setTimeout(function () { window.close(); }, 5000);</script>
</body>
</html>`
