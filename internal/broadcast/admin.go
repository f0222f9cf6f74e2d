package broadcast

import (
	"html/template"
	"net/http"

	"tailscale.com/tsweb"
)

var tailPage = template.Must(template.New("tail").Parse(`<!doctype html>
<html>
<head><title>trackscan live tail</title></head>
<body>
<h1>Live events</h1>
<p>Subscribers: alerts {{.Alerts}}, tamping {{.Tamping}}</p>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const es = new EventSource("tail-events");
es.onmessage = (e) => { log.textContent = e.data + "\n" + log.textContent; };
</script>
</body>
</html>
`))

// AttachAdminRoutes adds a live tail of every published event to the debug
// handler.
func (h *Hub) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.HandleFunc("tail", "Live tail of alert and decision events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct{ Alerts, Tamping int }{
			Alerts:  h.SubscriberCount(TopicAlerts),
			Tamping: h.SubscriberCount(TopicTamping),
		}
		if err := tailPage.Execute(w, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})
	debug.HandleSilentFunc("tail-events", func(w http.ResponseWriter, r *http.Request) {
		h.ServeSSE(w, r, TopicAll)
	})
}
