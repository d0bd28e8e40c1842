package api

import (
	"net/http"
	"strconv"
	"strings"
)

// tileCoords is a parsed {z}/{x}/{y}.{ext} path tail.
type tileCoords struct {
	z, x, y int
}

// ServeTiles routes everything under /tiles/. Tile coordinates live in the
// middle of the final path segment ({y}.png, {y}.grid.json), which rules out
// mux patterns, so the split happens here.
func (h *Handler) ServeTiles(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tiles/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	// A bare /tiles/flush_cache has no table to build a channel from.
	if len(segments) == 1 {
		http.NotFound(w, r)
		return
	}

	table := segments[0]
	switch {
	case len(segments) == 2 && segments[1] == "style":
		switch r.Method {
		case http.MethodGet:
			h.getStyle(w, r, table)
		case http.MethodPost:
			h.postStyle(w, r, table)
		case http.MethodDelete:
			h.deleteStyle(w, r, table)
		default:
			w.Header().Set("Allow", "GET, POST, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(segments) == 2 && segments[1] == "infowindow":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getInfowindow(w, r, table)
	case len(segments) == 2 && segments[1] == "map_metadata":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getMapMetadata(w, r, table)
	case len(segments) == 2 && segments[1] == "flush_cache":
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.flushCache(w, r, table)
	case len(segments) == 4:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		last := segments[3]
		switch {
		case strings.HasSuffix(last, ".grid.json"):
			coords, ok := parseCoords(segments[1], segments[2], strings.TrimSuffix(last, ".grid.json"))
			if !ok {
				http.NotFound(w, r)
				return
			}
			h.getGrid(w, r, table, coords)
		case strings.HasSuffix(last, ".png"):
			coords, ok := parseCoords(segments[1], segments[2], strings.TrimSuffix(last, ".png"))
			if !ok {
				http.NotFound(w, r)
				return
			}
			h.getTile(w, r, table, coords)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func parseCoords(zs, xs, ys string) (tileCoords, bool) {
	z, err := strconv.Atoi(zs)
	if err != nil {
		return tileCoords{}, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return tileCoords{}, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return tileCoords{}, false
	}
	return tileCoords{z: z, x: x, y: y}, true
}

// ServeRoot answers the load-balancer reachability probe.
func (h *Handler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeVersion reports the gateway build and the styling engine line it
// targets.
func (h *Handler) ServeVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"tilegate":       h.Version,
		"engine_version": h.Styles.EngineVersion(),
	})
}
