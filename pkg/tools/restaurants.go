// Package tools provides the functions the restaurant agents may call:
// restaurant lookup, table reservation, and HTTP tools declared in config.
package tools

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/tablefinder/tablefinder/pkg/genx"
)

// DefaultImageBase is the image host written into the bundled dataset.
const DefaultImageBase = "http://localhost:10002"

// DefaultCount is the number of restaurants returned when the model does not
// ask for a specific count.
const DefaultCount = 5

// DatasetFile is the resource name of the restaurant dataset.
const DatasetFile = "restaurant_data.json"

//go:embed data/restaurant_data.json
var DefaultDataset []byte

//go:embed data/restaurant_data.json
var assets embed.FS

// Assets returns the built-in resources, with DefaultDataset at DatasetFile.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

// Restaurant is one dataset entry, in the shape the presenter prompt expects.
type Restaurant struct {
	Name     string `json:"name"`
	Detail   string `json:"detail"`
	ImageURL string `json:"imageUrl"`
	Rating   string `json:"rating"`
	InfoLink string `json:"infoLink"`
	Address  string `json:"address"`
}

// Dataset is an immutable list of restaurants.
type Dataset struct {
	items []Restaurant
}

// LoadDataset parses a JSON array of restaurants. When baseURL is set, image
// links pointing at DefaultImageBase are rewritten to it.
func LoadDataset(data []byte, baseURL string) (*Dataset, error) {
	if baseURL != "" && baseURL != DefaultImageBase {
		data = []byte(strings.ReplaceAll(string(data), DefaultImageBase, strings.TrimSuffix(baseURL, "/")))
	}
	var items []Restaurant
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("tools: decode restaurant dataset: %w", err)
	}
	return &Dataset{items: items}, nil
}

// Len returns the number of restaurants.
func (d *Dataset) Len() int {
	return len(d.items)
}

// Find returns up to count restaurants for location. Only New York is
// covered; any other location yields an empty list. Cuisine is accepted but
// the dataset is not filtered by it.
func (d *Dataset) Find(cuisine, location string, count int) []Restaurant {
	if count <= 0 {
		count = DefaultCount
	}
	loc := strings.ToLower(location)
	if !strings.Contains(loc, "new york") && !strings.Contains(loc, "ny") {
		return []Restaurant{}
	}
	n := min(count, len(d.items))
	out := make([]Restaurant, n)
	copy(out, d.items[:n])
	return out
}

// GetRestaurantsArgs are the arguments of get_restaurants.
type GetRestaurantsArgs struct {
	Cuisine  string `json:"cuisine" jsonschema:"the cuisine to search for, e.g. chinese"`
	Location string `json:"location" jsonschema:"the city or area, e.g. New York"`
	Count    int    `json:"count,omitempty" jsonschema:"the number of restaurants to return, defaults to 5"`
}

// GetRestaurants returns the get_restaurants tool over d. The result is the
// JSON array of matching restaurants.
func GetRestaurants(d *Dataset) (*genx.FuncTool, error) {
	return genx.NewFuncTool[GetRestaurantsArgs](
		"get_restaurants",
		"Call this tool to get a list of restaurants based on a cuisine and location. "+
			"'count' is the number of restaurants to return.",
		genx.InvokeFunc[GetRestaurantsArgs](func(_ context.Context, _ *genx.FuncCall, args GetRestaurantsArgs) (any, error) {
			items := d.Find(args.Cuisine, args.Location, args.Count)
			slog.Info("tools: get_restaurants",
				"cuisine", args.Cuisine, "location", args.Location, "count", args.Count,
				"total", d.Len(), "returned", len(items))
			b, err := json.Marshal(items)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}),
	)
}

// MakeReservationArgs are the arguments of make_reservation.
type MakeReservationArgs struct {
	RestaurantName      string `json:"restaurant_name" jsonschema:"name of the restaurant"`
	People              int    `json:"people" jsonschema:"number of guests"`
	SpecialInstructions string `json:"special_instructions" jsonschema:"extra details for the booking"`
}

// MakeReservation returns the make_reservation tool. Bookings are confirmed
// immediately; nothing is stored.
func MakeReservation() (*genx.FuncTool, error) {
	return genx.NewFuncTool[MakeReservationArgs](
		"make_reservation",
		"Tool to make a reservation using name of the restaurant and extra details",
		genx.InvokeFunc[MakeReservationArgs](func(_ context.Context, _ *genx.FuncCall, args MakeReservationArgs) (any, error) {
			slog.Info("tools: make_reservation", "restaurant", args.RestaurantName, "people", args.People)
			return fmt.Sprintf("Table booked at %s for %d people with special details added about: %s",
				args.RestaurantName, args.People, args.SpecialInstructions), nil
		}),
	)
}
