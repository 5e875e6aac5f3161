package restapi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fatalReporter is the part of testing.TB the field extractors need.
type fatalReporter interface {
	Helper()
	Fatalf(format string, args ...any)
}

func objectField(t fatalReporter, list []interface{}, i int, key string) interface{} {
	t.Helper()
	object, ok := list[i].(map[string]interface{})
	if !ok {
		t.Fatalf("element %d is %T, not an object", i, list[i])
		return nil
	}
	value, ok := object[key]
	if !ok {
		t.Fatalf("element %d has no %q", i, key)
		return nil
	}
	return value
}

// idsOf returns the string at key of every object in a decoded JSON list,
// such as the stop ids of a stop-times response.
func idsOf(t fatalReporter, list []interface{}, key string) []string {
	t.Helper()
	ids := make([]string, 0, len(list))
	for i := range list {
		value := objectField(t, list, i, key)
		id, ok := value.(string)
		if !ok {
			t.Fatalf("element %d %q is %T, not a string", i, key, value)
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}

// flattenedIdsOf concatenates the string arrays at key, such as the route
// ids affected by a list of alerts.
func flattenedIdsOf(t fatalReporter, list []interface{}, key string) []string {
	t.Helper()
	var ids []string
	for i := range list {
		value := objectField(t, list, i, key)
		nested, ok := value.([]interface{})
		if !ok {
			t.Fatalf("element %d %q is %T, not an array", i, key, value)
			return nil
		}
		for j, item := range nested {
			id, ok := item.(string)
			if !ok {
				t.Fatalf("element %d %q[%d] is %T, not a string", i, key, j, item)
				return nil
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// recordingReporter keeps the first failure and stops the extractor by
// panicking, which the caller recovers.
type recordingReporter struct {
	message string
}

type stopExtraction struct{}

func (r *recordingReporter) Helper() {}

func (r *recordingReporter) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(stopExtraction{})
}

func failureOf(extract func(fatalReporter)) string {
	r := &recordingReporter{}
	func() {
		defer func() {
			if v := recover(); v != nil {
				if _, ok := v.(stopExtraction); !ok {
					panic(v)
				}
			}
		}()
		extract(r)
	}()
	return r.message
}

func TestIdsOf(t *testing.T) {
	vehicles := []interface{}{
		map[string]interface{}{"vehicleId": "V1", "tripId": "T1"},
		map[string]interface{}{"vehicleId": "V2"},
	}
	assert.Equal(t, []string{"V1", "V2"}, idsOf(t, vehicles, "vehicleId"))
	assert.Empty(t, idsOf(t, nil, "vehicleId"))
}

func TestIdsOfFailures(t *testing.T) {
	tests := []struct {
		name string
		list []interface{}
		want string
	}{
		{"not an object", []interface{}{"S1"}, `element 0 is string, not an object`},
		{"missing key", []interface{}{map[string]interface{}{"name": "Pine"}}, `element 0 has no "stopId"`},
		{"numeric id", []interface{}{map[string]interface{}{"stopId": 7.0}}, `element 0 "stopId" is float64, not a string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failureOf(func(r fatalReporter) { idsOf(r, tt.list, "stopId") })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlattenedIdsOf(t *testing.T) {
	alerts := []interface{}{
		map[string]interface{}{"id": "A1", "routeIds": []interface{}{"R10", "R2"}},
		map[string]interface{}{"id": "A2", "routeIds": []interface{}{}},
		map[string]interface{}{"id": "A3", "routeIds": []interface{}{"R99"}},
	}
	assert.Equal(t, []string{"R10", "R2", "R99"}, flattenedIdsOf(t, alerts, "routeIds"))
}

func TestFlattenedIdsOfFailures(t *testing.T) {
	tests := []struct {
		name string
		list []interface{}
		want string
	}{
		{"not an array", []interface{}{map[string]interface{}{"routeIds": "R10"}}, `element 0 "routeIds" is string, not an array`},
		{"non-string member", []interface{}{map[string]interface{}{"routeIds": []interface{}{"R10", true}}}, `element 0 "routeIds"[1] is bool, not a string`},
		{"missing key", []interface{}{map[string]interface{}{"id": "A1"}}, `element 0 has no "routeIds"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failureOf(func(r fatalReporter) { flattenedIdsOf(r, tt.list, "routeIds") })
			assert.Equal(t, tt.want, got)
		})
	}
}
