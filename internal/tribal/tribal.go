// Package tribal detects tribe/referral-link requests and builds the
// specialized prompt answering them.
package tribal

import "strings"

// Detector matches queries against a configured list of tribal phrases.
// Patterns come from the persona definition, not from code.
type Detector struct {
	patterns []string
}

// NewDetector creates a detector. Patterns are lowercased once up front.
func NewDetector(patterns []string) *Detector {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Detector{patterns: lowered}
}

// IsTribalRequest reports whether the query asks for a tribe or referral
// link. Matching is case-insensitive substring containment.
func (d *Detector) IsTribalRequest(query string) bool {
	q := strings.ToLower(query)
	for _, p := range d.patterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// BuildPrompt composes the generation prompt for a detected tribal request.
func BuildPrompt(userName, referralCode string) string {
	var b strings.Builder
	b.WriteString("El usuario está solicitando el link de su tribu (equipo de referidos).\n\n")
	b.WriteString("Datos del usuario:\n")
	b.WriteString("- Nombre: " + userName + "\n")
	b.WriteString("- Código de referido: " + referralCode + "\n\n")
	b.WriteString("Instrucciones de estilo:\n")
	b.WriteString("- Responde SIEMPRE en español.\n")
	b.WriteString("- Tono amable, claro, cercano y motivacional.\n")
	b.WriteString("- No incluyas detalles técnicos ni describas cómo se genera el link.\n")
	b.WriteString("- No reveles información interna de sistemas o seguridad.\n\n")
	b.WriteString("Redacta un mensaje breve que:\n")
	b.WriteString("1) Salude al usuario por su nombre (si está disponible).\n")
	b.WriteString("2) Confirme que entiendes que quiere el link de su tribu.\n")
	if referralCode != "" {
		b.WriteString("3) Indique que el link se generará automáticamente con su código de referido.\n")
	} else {
		b.WriteString("3) Explique que el link lo comparte su coordinador.\n")
	}
	b.WriteString("4) Explique en una línea que las tribus son equipos de voluntarios por región.\n")
	b.WriteString("5) Ofrezca ayuda para contactar al coordinador local.\n")
	b.WriteString("6) Cierre con un tono positivo y de movilización.\n")
	return b.String()
}
