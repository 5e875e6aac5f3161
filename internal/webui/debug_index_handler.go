package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/logging"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

type debugData struct {
	Title string
	Pre   string
}

func writeDebugData(w http.ResponseWriter, logger *slog.Logger, title string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := debugTemplate.Execute(w, debugData{
		Title: title,
		Pre:   dumpConfig.Sdump(data),
	})
	if err != nil {
		logging.LogError(logger, "failed to execute debug template", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	logger := webUI.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if webUI.Cache == nil {
		http.Error(w, "cache not initialized", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	dataType := query.Get("dataType")

	var data interface{}
	var title string

	snap := webUI.Cache.Snapshot()

	switch dataType {
	case "status":
		if webUI.Scheduler == nil {
			data = "scheduler not running"
		} else {
			data = webUI.Scheduler.Status()
		}
		title = "Refresh Scheduler - Status"
	case "counts":
		data = map[string]interface{}{
			"generation": snap.Generation(),
			"loadedAt":   snap.LoadedAt(),
			"entities":   snap.Counts(),
		}
		title = "Entity Cache - Counts"
	case "tables":
		if webUI.Engine == nil || webUI.Engine.DB() == nil {
			data = "database not initialized"
		} else if counts, err := webUI.Engine.DB().TableCounts(r.Context()); err != nil {
			logging.LogError(logger, "failed to count tables", err)
			data = map[string]string{"error": err.Error()}
		} else {
			data = counts
		}
		title = "Query Engine - Table Counts"
	case "agencies":
		data = snap.Agencies()
		title = "Entity Cache - Agencies"
	case "routes":
		data = snap.Routes()
		title = "Entity Cache - Routes"
	case "trips":
		routeID := query.Get("routeId")
		data = snap.TripsForRoute(routeID)
		title = "Entity Cache - Trips for " + routeID
	case "stop_times":
		tripID := query.Get("tripId")
		data = snap.StopTimes(tripID)
		title = "Entity Cache - Stop Times for " + tripID
	case "stops":
		data = snap.Stops()
		title = "Entity Cache - Stops"
	case "alerts":
		data = snap.Alerts()
		title = "Entity Cache - Alerts"
	case "vehicles":
		data = snap.VehiclePositions()
		title = "Entity Cache - Vehicle Positions"
	case "selection":
		if webUI.Selection == nil {
			data = "selection not initialized"
		} else {
			data = webUI.Selection.State()
		}
		title = "Selection - State"
	default:
		data = map[string]string{
			"error": "Please use one of the following: status, counts, tables, agencies, routes, trips, stop_times, stops, alerts, vehicles, selection.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, logger, title, data)
}
