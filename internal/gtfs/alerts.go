package gtfs

import (
	"fmt"
	"slices"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"google.golang.org/protobuf/proto"
	"overlay.onebusaway.org/internal/models"
)

// preferredLanguages orders translations when an alert carries several.
// An untagged translation is the feed's default language.
var preferredLanguages = []string{"", "en"}

// decodeAlerts reads service alerts straight from the protobuf message so that
// untranslated, translated and URL fields are all available.
func decodeAlerts(body []byte) ([]models.Alert, error) {
	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var alerts []models.Alert
	for _, entity := range feed.GetEntity() {
		alert := entity.GetAlert()
		if alert == nil || entity.GetIsDeleted() || entity.GetId() == "" {
			continue
		}

		a := models.Alert{
			ID:          entity.GetId(),
			Header:      pickTranslation(alert.GetHeaderText()),
			Description: pickTranslation(alert.GetDescriptionText()),
			URL:         pickTranslation(alert.GetUrl()),
		}

		for _, informed := range alert.GetInformedEntity() {
			routeID := informed.GetRouteId()
			if routeID == "" {
				routeID = informed.GetTrip().GetRouteId()
			}
			if routeID != "" && !slices.Contains(a.RouteIDs, routeID) {
				a.RouteIDs = append(a.RouteIDs, routeID)
			}
		}

		for _, period := range alert.GetActivePeriod() {
			var p models.ActivePeriod
			if period.Start != nil {
				start := int64(period.GetStart())
				p.Start = &start
			}
			if period.End != nil {
				end := int64(period.GetEnd())
				p.End = &end
			}
			a.ActivePeriods = append(a.ActivePeriods, p)
		}

		alerts = append(alerts, a)
	}
	return alerts, nil
}

// pickTranslation returns the translation in the first preferred language,
// falling back to the first translation present.
func pickTranslation(ts *gtfsrt.TranslatedString) string {
	translations := ts.GetTranslation()
	if len(translations) == 0 {
		return ""
	}
	for _, lang := range preferredLanguages {
		for _, t := range translations {
			if t.GetLanguage() == lang {
				return t.GetText()
			}
		}
	}
	return translations[0].GetText()
}
