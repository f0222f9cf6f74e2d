package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/httputil"
)

// stream serves one topic as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic == broadcast.TopicAll || !broadcast.ValidTopic(topic) {
		httputil.NotFound(w, "Unknown stream")
		return
	}
	s.hub.ServeSSE(w, r, topic)
}
