// Package prompt assembles the system prompt for a question from the
// persona, the user's unit preferences, the vehicle in effect and the
// retrieved document passages.
package prompt

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-garage/engine/domain"
)

// DefaultPersona is the base instruction block.
const DefaultPersona = `You are the Wessley garage assistant, an experienced automotive technician.
Give short, direct answers. Replies may be read aloud, so keep them under 800 characters.
Do not repeat the vehicle's name or details back to the user; they know which vehicle they asked about.
Answer only the question asked. If you are unsure of a specification, say so instead of guessing.`

// Citation block markers. The model is asked to end every answer with a
// JSON array of the document titles it relied on between these markers.
const (
	CitationOpen  = "<sources>"
	CitationClose = "</sources>"
)

// VehicleContext is the vehicle information placed in the prompt. Vehicle
// may be nil when the request only carries free-text engine or notes.
type VehicleContext struct {
	Vehicle *domain.Vehicle
	Engine  string
	Notes   string
}

func (vc *VehicleContext) empty() bool {
	return vc == nil || (vc.Vehicle == nil && strings.TrimSpace(vc.Engine) == "" && strings.TrimSpace(vc.Notes) == "")
}

// Compose builds the system prompt. Blocks appear in a fixed order and
// absent optional blocks are left out entirely.
func Compose(persona string, units domain.UnitPreferences, vehicle *VehicleContext, docs []domain.DocumentPassage) string {
	blocks := []string{strings.TrimSpace(persona), unitBlock(units)}
	if !vehicle.empty() {
		blocks = append(blocks, vehicleBlock(vehicle))
	}
	if len(docs) > 0 {
		blocks = append(blocks, documentBlock(docs))
	}
	return strings.Join(blocks, "\n\n")
}

type unitChoice struct {
	dimension string
	value     string
	options   map[string]string
	fallback  string
}

func unitBlock(u domain.UnitPreferences) string {
	choices := []unitChoice{
		{"Torque", u.Torque, map[string]string{
			domain.TorqueNewtonMeters: "newton meters",
			domain.TorquePoundFeet:    "pound feet",
		}, domain.TorquePoundFeet},
		{"Pressure", u.Pressure, map[string]string{
			domain.PressurePSI:        "pounds per square inch",
			domain.PressureBar:        "bar",
			domain.PressureKilopascal: "kilopascals",
		}, domain.PressurePSI},
		{"Length", u.Length, map[string]string{
			domain.SystemMetric:   "millimeters, centimeters and meters",
			domain.SystemImperial: "inches and feet",
		}, domain.SystemImperial},
		{"Volume", u.Volume, map[string]string{
			domain.SystemMetric:   "liters and milliliters",
			domain.SystemImperial: "quarts, gallons and ounces",
		}, domain.SystemImperial},
		{"Temperature", u.Temperature, map[string]string{
			domain.TemperatureCelsius:    "degrees Celsius",
			domain.TemperatureFahrenheit: "degrees Fahrenheit",
		}, domain.TemperatureFahrenheit},
		{"Weight", u.Weight, map[string]string{
			domain.SystemMetric:   "kilograms and grams",
			domain.SystemImperial: "pounds and ounces",
		}, domain.SystemImperial},
		{"Socket sizes", u.Socket, map[string]string{
			domain.SystemMetric:   "millimeter sockets",
			domain.SystemImperial: "inch sockets",
		}, domain.SystemImperial},
	}

	var b strings.Builder
	b.WriteString("Units: spell every unit name out in full and never abbreviate units.")
	for _, c := range choices {
		name, ok := c.options[strings.ToLower(c.value)]
		if !ok {
			name = c.options[c.fallback]
		}
		fmt.Fprintf(&b, "\n- %s: %s", c.dimension, name)
	}
	return b.String()
}

func vehicleBlock(vc *VehicleContext) string {
	var b strings.Builder
	b.WriteString("Vehicle in question:")
	if v := vc.Vehicle; v != nil {
		fmt.Fprintf(&b, "\n- Vehicle: %s", v.DisplayName())
		if v.Engine != "" {
			fmt.Fprintf(&b, "\n- Engine: %s", oneLine(v.Engine))
		}
		if v.Notes != "" {
			fmt.Fprintf(&b, "\n- Notes: %s", oneLine(v.Notes))
		}
	}
	if e := strings.TrimSpace(vc.Engine); e != "" {
		fmt.Fprintf(&b, "\n- Engine: %s", oneLine(e))
	}
	if n := strings.TrimSpace(vc.Notes); n != "" {
		fmt.Fprintf(&b, "\n- Notes: %s", oneLine(n))
	}
	return b.String()
}

func documentBlock(docs []domain.DocumentPassage) string {
	var b strings.Builder
	b.WriteString("Reference documents:")
	for _, d := range docs {
		fmt.Fprintf(&b, "\n- %s: %s", oneLine(d.SourceTitle), oneLine(d.Content))
	}
	fmt.Fprintf(&b, "\n\nUse the reference documents where they apply. End your answer with one line of the form %s[\"Document title\", ...]%s naming the documents you used, or %s[]%s if you used none.",
		CitationOpen, CitationClose, CitationOpen, CitationClose)
	return b.String()
}

// oneLine collapses whitespace so a value stays on its own list line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
