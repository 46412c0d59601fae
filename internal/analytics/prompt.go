// Package analytics builds the prompt for volunteer-ranking queries.
package analytics

import (
	"fmt"
	"strings"
)

// Standing is a volunteer's position within one scope (city or country).
type Standing struct {
	Position     any `json:"position"`
	Participants int `json:"totalParticipants"`
}

// Data is the ranking payload attached to an analytics-chat request.
type Data struct {
	Name   string   `json:"name"`
	City   Standing `json:"city"`
	Region Standing `json:"region"`
}

// Empty reports whether no ranking data was provided at all.
func (d Data) Empty() bool {
	return d.Name == "" && d.City == (Standing{}) && d.Region == (Standing{})
}

// BuildPrompt composes the generation prompt from the user's query and
// ranking data. cityName comes from the request's user data; it defaults to
// a neutral placeholder when absent.
func BuildPrompt(query string, data Data, cityName string) string {
	name := data.Name
	if name == "" {
		name = "Voluntario"
	}
	if cityName == "" {
		cityName = "tu ciudad"
	}

	var b strings.Builder
	b.WriteString("Eres una IA política especializada en campañas. El usuario pregunta por su posición en la campaña.\n\n")
	b.WriteString("DATOS DEL USUARIO:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", name)
	fmt.Fprintf(&b, "- Ciudad: %s\n", cityName)
	fmt.Fprintf(&b, "- Posición en %s: #%s de %d participantes\n", cityName, position(data.City), data.City.Participants)
	fmt.Fprintf(&b, "- Posición en el país: #%s de %d participantes\n", position(data.Region), data.Region.Participants)
	b.WriteString("\n")
	fmt.Fprintf(&b, "CONSULTA DEL USUARIO: %q\n\n", query)
	b.WriteString("INSTRUCCIONES:\n")
	b.WriteString("1. Responde SOLO con la posición del usuario en su ciudad y en el país.\n")
	b.WriteString("2. Mantén la respuesta MUY CORTA (máximo 2 líneas).\n")
	b.WriteString("3. Usa un tono motivacional pero directo.\n")
	b.WriteString("4. NO incluyas análisis complejos ni métricas adicionales.\n")
	b.WriteString("5. NO menciones otras ciudades.\n")
	return b.String()
}

func position(s Standing) string {
	if s.Position == nil {
		return "N/A"
	}
	switch v := s.Position.(type) {
	case float64:
		return fmt.Sprintf("%d", int(v))
	case int:
		return fmt.Sprintf("%d", v)
	case string:
		if v == "" {
			return "N/A"
		}
		return v
	default:
		return "N/A"
	}
}
