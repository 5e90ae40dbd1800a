package ui

import "html/template"

type pageData struct {
	Title  string
	Digest string
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
pre { background: #f6f6f6; padding: 1em; overflow: auto; }
#status { color: #a00; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<button id="button" type="button">Refresh</button>
<span id="status"></span>
<pre id="digest">{{.Digest}}</pre>
<script>
(function () {
  var digest = document.getElementById("digest");
  var status = document.getElementById("status");
  document.getElementById("button").addEventListener("click", function () {
    status.textContent = "";
    fetch("/trigger", { method: "POST" }).then(function (res) {
      return res.json().then(function (body) {
        if (!res.ok) { status.textContent = body.error || res.statusText; return; }
        digest.textContent = body.text;
      });
    }).catch(function (err) { status.textContent = String(err); });
  });
  if (window.EventSource) {
    var source = new EventSource("/events?kind=digest&kind=error");
    source.addEventListener("digest", function (e) {
      var evt = JSON.parse(e.data);
      digest.textContent = evt.payload.text;
    });
    source.addEventListener("error", function (e) {
      if (!e.data) { return; }
      var evt = JSON.parse(e.data);
      status.textContent = evt.payload.error;
    });
  }
})();
</script>
</body>
</html>
`))
