package models

import "strings"

// Student is one row of the Students table.
type Student struct {
	Row          int    `json:"-"`
	Registration string `json:"registration"`
	Surname      string `json:"surname"`
	FirstName    string `json:"first_name"`
	Specialty    string `json:"specialty"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	TopicRef     string `json:"topic_ref,omitempty"`
	Email        string `json:"email,omitempty"`
}

// DisplayName is the surname followed by the first name.
func (s Student) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(s.Surname) + " " + strings.TrimSpace(s.FirstName))
}

// Registered reports whether the student is already bound to a topic.
func (s Student) Registered() bool {
	return strings.TrimSpace(s.TopicRef) != ""
}

// StudentSummary is the public view of a verified student.
type StudentSummary struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	Registration string `json:"registration,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
}

// Summary returns the public view of the student.
func (s Student) Summary() StudentSummary {
	return StudentSummary{
		Username:     s.Username,
		Name:         s.DisplayName(),
		Registration: s.Registration,
		Specialty:    s.Specialty,
	}
}
