// Package domain holds the records and error taxonomy shared by the chat engine.
package domain

import "time"

// Agent is a support persona presented to visitors.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Avatar      string    `json:"avatar,omitempty"`
	Personality string    `json:"personality,omitempty"`
	Active      bool      `json:"active"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Persona is the prompt-shaping and display view of an agent.
type Persona struct {
	AgentID     string `json:"agentId,omitempty"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar,omitempty"`
	Personality string `json:"personality,omitempty"`
}

// FallbackPersona is used when no agent is assigned or the assigned one is gone.
var FallbackPersona = Persona{
	Name:        "Support Team",
	Role:        "Customer Support",
	Personality: "Friendly, patient and professional.",
}

// PersonaOf returns the persona for a, or FallbackPersona when a is nil.
func PersonaOf(a *Agent) Persona {
	if a == nil {
		return FallbackPersona
	}
	return Persona{
		AgentID:     a.ID,
		Name:        a.Name,
		Role:        a.Role,
		Avatar:      a.Avatar,
		Personality: a.Personality,
	}
}

// AgentView is the public shape of a persona in chat replies.
type AgentView struct {
	Name   string  `json:"name"`
	Role   string  `json:"role,omitempty"`
	Avatar *string `json:"avatar"`
}

// View converts a persona to its public shape. An empty avatar renders as null.
func (p Persona) View() AgentView {
	v := AgentView{Name: p.Name, Role: p.Role}
	if p.Avatar != "" {
		avatar := p.Avatar
		v.Avatar = &avatar
	}
	return v
}

// Principal identifies the caller of an administrative operation.
type Principal struct {
	Subject string
	Admin   bool
}

// Anonymous is the principal of unauthenticated widget traffic.
var Anonymous = Principal{Subject: "anonymous"}
