package service

import (
	"strings"

	"github.com/noah-isme/memo-registry-api/internal/models"
)

var supervisorHonorifics = []string{"الأستاذ", "أ.د", "د.", "prof.", "dr.", "pr."}

// normalizeSupervisor strips common honorifics and folds case so free-text
// supervisor names written differently across ledgers can be compared.
func normalizeSupervisor(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, h := range supervisorHonorifics {
		name = strings.ReplaceAll(name, h, " ")
	}
	return strings.Join(strings.Fields(name), " ")
}

// supervisorMatches reports whether two supervisor names denote the same person:
// exact after trimming, otherwise a case-insensitive substring match once
// honorifics are removed.
func supervisorMatches(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	na, nb := normalizeSupervisor(a), normalizeSupervisor(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// supervisorRows returns the mirror rows issued by name, exact matches first and
// the honorific-insensitive fallback only when no exact row exists.
func supervisorRows(snap *models.Snapshot, name string) []models.SupervisorCredential {
	if rows := snap.CredentialsForSupervisor(name); len(rows) > 0 {
		return rows
	}
	clean := normalizeSupervisor(name)
	if clean == "" {
		return nil
	}
	out := make([]models.SupervisorCredential, 0)
	for _, c := range snap.Credentials {
		if strings.Contains(normalizeSupervisor(c.Supervisor), clean) {
			out = append(out, c)
		}
	}
	return out
}
