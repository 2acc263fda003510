package model

// Tenant identifies the workspace or enterprise an event was delivered for.
type Tenant struct {
	EnterpriseID        string
	TeamID              string
	IsEnterpriseInstall bool
}
