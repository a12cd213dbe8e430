// Package catalog holds the static medication library that doctors pick from
// when prescribing. Entries are deployment-time data: there is no runtime
// create, update or delete path.
package catalog

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Item is a prescribable medication with its default dosage and frequency.
type Item struct {
	MedID     int    `json:"medId" bson:"medId"`
	Name      string `json:"name" bson:"name"`
	Dosage    string `json:"dosage" bson:"dosage"`
	Frequency string `json:"frequency" bson:"frequency"`
}

var items = []Item{
	{MedID: 101, Name: "Metformin", Dosage: "500 mg", Frequency: "Twice daily"},
	{MedID: 102, Name: "Lisinopril", Dosage: "10 mg", Frequency: "Once daily"},
	{MedID: 103, Name: "Atorvastatin", Dosage: "20 mg", Frequency: "Once daily"},
	{MedID: 104, Name: "Amlodipine", Dosage: "5 mg", Frequency: "Once daily"},
	{MedID: 105, Name: "Omeprazole", Dosage: "20 mg", Frequency: "Once daily"},
	{MedID: 106, Name: "Simvastatin", Dosage: "40 mg", Frequency: "Once daily"},
	{MedID: 107, Name: "Hydrochlorothiazide", Dosage: "25 mg", Frequency: "Once daily"},
	{MedID: 108, Name: "Ciprofloxacin", Dosage: "500 mg", Frequency: "Twice daily"},
	{MedID: 109, Name: "Amoxicillin", Dosage: "500 mg", Frequency: "Three times daily"},
	{MedID: 110, Name: "Insulin Glargine", Dosage: "10 units", Frequency: "Once daily"},
	{MedID: 111, Name: "Warfarin", Dosage: "5 mg", Frequency: "Once daily"},
	{MedID: 112, Name: "Losartan", Dosage: "50 mg", Frequency: "Once daily"},
	{MedID: 113, Name: "Sertraline", Dosage: "50 mg", Frequency: "Once daily"},
	{MedID: 114, Name: "Gabapentin", Dosage: "300 mg", Frequency: "Three times daily"},
	{MedID: 115, Name: "Salbutamol Inhaler", Dosage: "2 puffs", Frequency: "As needed"},
}

var byID = func() map[int]Item {
	m := make(map[int]Item, len(items))
	for _, it := range items {
		m[it.MedID] = it
	}
	return m
}()

// List returns a copy of the catalog ordered by MedID.
func List() []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].MedID < out[j].MedID })
	return out
}

// Lookup returns the catalog entry for medID.
func Lookup(medID int) (Item, bool) {
	it, ok := byID[medID]
	return it, ok
}

// Handler serves the catalog over HTTP.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes mounts GET /medications. Only reads are exposed.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/medications", h.List, auth.RequireCapability(auth.CapReadCatalog))
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, List())
}
