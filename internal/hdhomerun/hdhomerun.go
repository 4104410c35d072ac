// Package hdhomerun emulates the HDHomeRun HTTP discovery/lineup
// surface so DVR clients such as Plex can add this relay as a network
// tuner, built against internal/repository's PlaylistStore/virtual-id
// model and streamed straight off a RewriteIterator instead of a
// materialized slice.
package hdhomerun

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/repository"
)

// Identity is one configured target's device identity.
type Identity struct {
	DeviceID     string
	FriendlyName string
	TunerCount   int
	BaseURL      string // this target's base URL, e.g. http://relay.example/hdhr/t1
}

// Target supplies the live-channel listing a Server needs for one
// identity's lineup.
type Target struct {
	Identity Identity
	Live     *repository.PlaylistStore
	// StreamURL, when set, builds the lineup URL for item; the default
	// is Identity.BaseURL + "/live/<virtual id>.ts", which carries no
	// user credentials.
	StreamURL func(item model.Item) string
}

// Server serves the HDHomeRun endpoints for one or more configured
// targets, one identity each, mounted under /hdhr/{target}.
type Server struct {
	Targets map[string]*Target
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/{target}/discover.json", s.handleDiscover)
	r.Get("/{target}/device.json", s.handleDiscover)
	r.Get("/{target}/device.xml", s.handleDeviceXML)
	r.Get("/{target}/lineup_status.json", s.handleLineupStatus)
	r.Get("/{target}/lineup.json", s.handleLineup)
	r.Post("/{target}/lineup.post", s.handleLineupPost)
	return r
}

func (s *Server) targetFor(r *http.Request) (*Target, bool) {
	t, ok := s.Targets[chi.URLParam(r, "target")]
	return t, ok
}

// discoverResponse mirrors HDHomeRun's discover.json/device.json body.
type discoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	t, ok := s.targetFor(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	resp := discoverResponse{
		FriendlyName:    t.Identity.FriendlyName,
		ModelNumber:     "HDTC-2US",
		FirmwareName:    "hdhomeruntc_atsc",
		FirmwareVersion: "20231231",
		DeviceID:        t.Identity.DeviceID,
		DeviceAuth:      "xtreamrelay",
		BaseURL:         t.Identity.BaseURL,
		LineupURL:       t.Identity.BaseURL + "/lineup.json",
		TunerCount:      t.Identity.TunerCount,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// deviceXML mirrors the UPnP root-device descriptor HDHomeRun clients
// fall back to when they don't speak the JSON discovery API.
type deviceXML struct {
	XMLName     xml.Name `xml:"root"`
	Xmlns       string   `xml:"xmlns,attr"`
	SpecVersion struct {
		Major int `xml:"major"`
		Minor int `xml:"minor"`
	} `xml:"specVersion"`
	Device struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ModelNumber  string `xml:"modelNumber"`
		SerialNumber string `xml:"serialNumber"`
		UDN          string `xml:"UDN"`
	} `xml:"device"`
}

func (s *Server) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	t, ok := s.targetFor(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var doc deviceXML
	doc.Xmlns = "urn:schemas-upnp-org:device-1-0"
	doc.SpecVersion.Major = 1
	doc.Device.DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	doc.Device.FriendlyName = t.Identity.FriendlyName
	doc.Device.Manufacturer = "Silicondust"
	doc.Device.ModelName = "HDHomeRun"
	doc.Device.ModelNumber = "HDTC-2US"
	doc.Device.SerialNumber = t.Identity.DeviceID
	doc.Device.UDN = "uuid:" + t.Identity.DeviceID

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}

type lineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

func (s *Server) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.targetFor(r); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(lineupStatus{ScanInProgress: 0, ScanPossible: 0, Source: "Cable", SourceList: []string{"Cable"}})
}

// lineupEntry is one HDHomeRun lineup.json channel.
type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// handleLineup streams the lineup JSON array straight off the target's
// live playlist iterator, never materializing the full channel list in
// memory.
func (s *Server) handleLineup(w http.ResponseWriter, r *http.Request) {
	t, ok := s.targetFor(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	it, err := t.Live.LoadRewritePlaylist(nil)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer it.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	_, _ = w.Write([]byte("["))
	first := true
	guideSeq := 0
	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			break
		}
		if item.Cluster != model.ClusterLive {
			continue
		}
		guideSeq++
		guideNumber := item.Chno
		if guideNumber == "" {
			guideNumber = fmt.Sprintf("%d", guideSeq)
		}
		if !first {
			_, _ = w.Write([]byte(","))
		}
		first = false
		entry := lineupEntry{
			GuideNumber: guideNumber,
			GuideName:   item.Name,
			URL:         streamURLFor(t, item),
		}
		_ = enc.Encode(entry)
	}
	_, _ = w.Write([]byte("]"))
}

func streamURLFor(t *Target, item model.Item) string {
	if t.StreamURL != nil {
		return t.StreamURL(item)
	}
	return fmt.Sprintf("%s/live/%d.ts", t.Identity.BaseURL, item.VirtualID)
}

// handleLineupPost accepts the scan trigger DVR clients POST to
// lineup.post?scan=start; there is nothing to scan since the lineup is
// generated live from the store, so this just acknowledges.
func (s *Server) handleLineupPost(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.targetFor(r); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
