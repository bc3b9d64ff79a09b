package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rasterline/imagery-retriever/model"
)

func TestFake_QueryHonoursLimit(t *testing.T) {
	fake := NewFake()
	fake.Scenes = []ImageID{"a", "b", "c", "d"}

	images, err := fake.Query(context.Background(), QuerySpec{Collection: "C", Limit: 2})
	assert.Nil(t, err, "%v", err)
	assert.Equal(t, []ImageID{"a", "b"}, images)
}

func TestFake_SamplePointsFiltersByRegion(t *testing.T) {
	fake := NewFake()
	fake.LandPoints = []model.GeoPoint{
		{Lon: -81, Lat: 28}, // inside
		{Lon: 10, Lat: 50},  // outside
		{Lon: -79, Lat: 25}, // inside
		{Lon: -80, Lat: 26}, // inside, beyond count
	}

	region := model.BoundingBox{West: -84, South: 24, East: -78, North: 32}
	points, err := fake.SamplePoints(context.Background(), region, 2, 30, 1)
	assert.Nil(t, err, "%v", err)
	assert.Equal(t, []model.GeoPoint{{Lon: -81, Lat: 28}, {Lon: -79, Lat: 25}}, points)
}

func TestFake_ExportLifecycle(t *testing.T) {
	fake := NewFake()

	handle, err := fake.SubmitExport(context.Background(), ExportSpec{Name: "n", Image: "i"})
	assert.Nil(t, err, "%v", err)
	assert.Equal(t, "export-0001", handle)

	state, _, err := fake.ExportStatus(context.Background(), handle)
	assert.Nil(t, err, "%v", err)
	assert.Equal(t, model.ExportReady, state, "submitted jobs start queued")

	fake.SetExportState(handle, model.ExportFailed, "boom")
	state, message, err := fake.ExportStatus(context.Background(), handle)
	assert.Nil(t, err, "%v", err)
	assert.Equal(t, model.ExportFailed, state)
	assert.Equal(t, "boom", message)

	_, _, err = fake.ExportStatus(context.Background(), "export-9999")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("unknown handle error = %v, want *APIError", err)
	}
	assert.Equal(t, 404, apiErr.Status)

	assert.Equal(t, []string{"export-0001"}, fake.Handles())
}
