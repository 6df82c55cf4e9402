package http

import "html/template"

// pageTemplate renders a view.Page. The script reloads the page whenever the
// session feed reports a change after the first snapshot.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
</head>
<body style="text-align: center; padding: 50px">
  <h1>{{.Title}}</h1>
  {{if .Connected}}
  <div>
    <p>Connected Wallet: <strong title="{{.Account}}">{{.ShortAccount}}</strong></p>
    <p>Network: <strong>{{.Network}}</strong></p>
    <p>{{.Greeting}}</p>
  </div>
  {{else}}
  <div>
    <form method="post" action="/connect">
      <button type="submit" style="padding: 10px 20px; font-size: 18px; cursor: pointer">{{.Action}}</button>
    </form>
    {{if .Notice}}<p style="color: red">{{.Notice}}</p>{{end}}
    <p style="margin-top: 20px"><small>{{.Hint}}</small></p>
  </div>
  {{end}}
  <script>
    (function () {
      var scheme = location.protocol === "https:" ? "wss://" : "ws://";
      var ws = new WebSocket(scheme + location.host + "/session/ws");
      var first = true;
      ws.onmessage = function () {
        if (first) {
          first = false;
          return;
        }
        location.reload();
      };
    })();
  </script>
</body>
</html>
`))
