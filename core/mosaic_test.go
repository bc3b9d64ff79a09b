package core

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rasterline/imagery-retriever/model"
)

func TestMosaicPlan_OneRectanglePerPoint(t *testing.T) {
	points := []model.GeoPoint{
		{Lon: -81, Lat: 28},
		{Lon: -80.2, Lat: 26.5},
		{Lon: -82.9, Lat: 30.1},
	}
	planner := NewMosaicPlanner(5000, 0, nil)

	planned, err := planner.Plan(context.Background(), points, "17R", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(planned) != len(points) {
		t.Fatalf("got %d planned mosaics, want %d", len(planned), len(points))
	}
	for i, pm := range planned {
		if pm.Point != points[i] {
			t.Errorf("planned[%d].Point = %+v, want %+v", i, pm.Point, points[i])
		}
		if w := pm.Region.MaxX - pm.Region.MinX; math.Abs(w-10000) > 1e-6 {
			t.Errorf("planned[%d] width = %f, want 10000", i, w)
		}
		if pm.OrderSeed < 0 || pm.OrderSeed >= OrderSeedRange {
			t.Errorf("planned[%d].OrderSeed = %d, want 0..%d", i, pm.OrderSeed, OrderSeedRange-1)
		}
	}
}

func TestMosaicPlan_TaggedPointsKeepTheirZone(t *testing.T) {
	points := []model.GeoPoint{
		{Lon: -81, Lat: 28, Zone: "17R"},
		{Lon: -75, Lat: 28},
	}
	planner := NewMosaicPlanner(5000, 0, nil)

	planned, err := planner.Plan(context.Background(), points, "18R", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := planned[0].Region.Projection.Code(); got != "EPSG:32617" {
		t.Errorf("tagged point projection = %q, want EPSG:32617", got)
	}
	if got := planned[1].Region.Projection.Code(); got != "EPSG:32618" {
		t.Errorf("untagged point projection = %q, want EPSG:32618", got)
	}
}

func TestMosaicPlan_AbortsOnBadZoneKey(t *testing.T) {
	planner := NewMosaicPlanner(5000, 0, nil)

	_, err := planner.Plan(context.Background(), []model.GeoPoint{{Lon: 0, Lat: 0}}, "bogus", rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrInvalidZoneKey) {
		t.Errorf("error = %v, want ErrInvalidZoneKey", err)
	}
}

func TestMosaicPlan_SeedsAreDeterministic(t *testing.T) {
	points := []model.GeoPoint{
		{Lon: -81, Lat: 28},
		{Lon: -80, Lat: 27},
	}
	planner := NewMosaicPlanner(5000, 0, nil)

	first, err := planner.Plan(context.Background(), points, "17R", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	second, err := planner.Plan(context.Background(), points, "17R", rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i := range first {
		if first[i].OrderSeed != second[i].OrderSeed {
			t.Errorf("seed %d differs across identically seeded runs: %d vs %d", i, first[i].OrderSeed, second[i].OrderSeed)
		}
	}
}
