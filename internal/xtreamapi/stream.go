package xtreamapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xtreamrelay/xtreamrelay/internal/metrics"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/streamproxy"
)

// handleStream serves /live, /movie, /series and the prefixless live-alt
// stream routes.
// Redirect users get a 302 to the upstream URL; reverse-proxy users are
// pumped through streamproxy with a provider connection slot held for the
// duration of the stream.
func (s *Server) handleStream(cluster model.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		password := chi.URLParam(r, "password")
		rawStreamID := chi.URLParam(r, "streamID")

		cred, ok := s.Users.Authenticate(username, password)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !cred.Active(time.Now()) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		targetName := s.Users.TargetName(username)
		target, ok := s.Targets[targetName]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		idPart, _ := separateNumberAndRemainder(rawStreamID)
		virtualID, err := strconv.ParseUint(idPart, 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		store := target.storeFor(cluster)
		if store == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		item, err := store.GetItemForStreamID(uint32(virtualID))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !cred.Bouquet.Allows(cluster, item.CategoryID) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		if cred.ProxyMode == model.ProxyRedirect {
			http.Redirect(w, r, item.URL, http.StatusFound)
			return
		}

		if !s.Users.Acquire(username) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		defer s.Users.Release(username)

		clusterLabel := cluster.String()
		metrics.ActiveStreams.WithLabelValues(targetName, clusterLabel).Inc()
		defer metrics.ActiveStreams.WithLabelValues(targetName, clusterLabel).Dec()

		w.Header().Set("Content-Type", "video/mp2t")

		if s.Broadcast == nil {
			p := s.Providers.AcquireConnection(targetName)
			if p == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			defer s.Providers.ReleaseConnection(targetName, p.ID)

			w.WriteHeader(http.StatusOK)
			_ = streamproxy.Pump(r.Context(), w, item.URL, streamproxy.Options{
				ReconnectEnabled: true,
			})
			return
		}

		s.serveShared(w, r, targetName, model.UUIDString(item.UUID), item.URL)
	}
}

// serveShared attaches w to the shared stream for key, starting the
// upstream fetch (with one held provider connection slot) if this
// request is the first subscriber, then copies every fanned-out chunk
// to w until the client disconnects or the shared fetch ends.
func (s *Server) serveShared(w http.ResponseWriter, r *http.Request, targetName, key, url string) {
	sub, fanout, isFirst, fetchCtx, leave := s.Broadcast.Join(r.Context(), key)
	defer leave()

	metrics.SharedStreamSubscribers.WithLabelValues(targetName).Inc()
	defer metrics.SharedStreamSubscribers.WithLabelValues(targetName).Dec()

	if isFirst {
		p := s.Providers.AcquireConnection(targetName)
		if p == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		go func() {
			defer s.Providers.ReleaseConnection(targetName, p.ID)
			_ = streamproxy.Pump(fetchCtx, fanout, url, streamproxy.Options{ReconnectEnabled: true})
		}()
	}

	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		n, err := w.Write(chunk)
		metrics.StreamBytesTotal.WithLabelValues(targetName).Add(float64(n))
		if err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleResource serves the /resource/{live,movie,series} image/backdrop
// endpoints.
func (s *Server) handleResource(cluster model.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		password := chi.URLParam(r, "password")

		cred, ok := s.Users.Authenticate(username, password)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		targetName := s.Users.TargetName(username)
		target, ok := s.Targets[targetName]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		virtualID, err := strconv.ParseUint(chi.URLParam(r, "streamID"), 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		store := target.storeFor(cluster)
		if store == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		item, err := store.GetItemForStreamID(uint32(virtualID))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		url := item.Logo
		if cluster != model.ClusterLive {
			var doc map[string]any
			if cluster == model.ClusterVideo {
				doc, _ = target.VODInfo.LoadVODInfo(item.ProviderID, nil)
			} else {
				doc, _ = target.SeriesInfo.LoadSeriesInfo(item.ProviderID, nil)
			}
			if info, ok := doc["info"].(map[string]any); ok {
				if s, ok := info["movie_image"].(string); ok {
					url = s
				}
			}
		}
		if url == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if cred.ProxyMode == model.ProxyRedirect {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		resp, err := s.client().Get(url)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}

// handleTimeshift serves the catch-up/timeshift stream routes, which
// carry duration/start either in the path or the query/form body
// depending on client.
func (s *Server) handleTimeshift(w http.ResponseWriter, r *http.Request) {
	username := nonEmpty(chi.URLParam(r, "username"), formOrQuery(r, "username"))
	password := nonEmpty(chi.URLParam(r, "password"), formOrQuery(r, "password"))
	rawStreamID := nonEmpty(chi.URLParam(r, "streamID"), formOrQuery(r, "stream"))
	duration := nonEmpty(chi.URLParam(r, "duration"), formOrQuery(r, "duration"))
	start := nonEmpty(chi.URLParam(r, "start"), formOrQuery(r, "start"))

	cred, ok := s.Users.Authenticate(username, password)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	targetName := s.Users.TargetName(username)
	target, ok := s.Targets[targetName]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	idPart, _ := separateNumberAndRemainder(rawStreamID)
	virtualID, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	item, err := target.Live.GetItemForStreamID(uint32(virtualID))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	url := item.URL + "?timeshift_duration=" + duration + "&timeshift_start=" + start
	if cred.ProxyMode == model.ProxyRedirect {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	if !s.Users.Acquire(username) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	defer s.Users.Release(username)

	p := s.Providers.AcquireConnection(targetName)
	if p == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer s.Providers.ReleaseConnection(targetName, p.ID)

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)
	_ = streamproxy.Pump(r.Context(), w, url, streamproxy.Options{ReconnectEnabled: true})
}

func nonEmpty(first, second string) string {
	if first != "" {
		return first
	}
	return second
}

func (s *Server) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}
