package commands

// backendSnapshot mirrors registry.Snapshot's JSON encoding. backendctl keeps
// its own copy rather than importing pkg/registry, the same way the model
// runner CLI talks to the daemon purely over its HTTP contract.
type backendSnapshot struct {
	ID               int     `json:"ID"`
	TypeID           string  `json:"TypeID"`
	Title            string  `json:"Title"`
	Enabled          bool    `json:"Enabled"`
	Status           string  `json:"Status"`
	Usages           int     `json:"Usages"`
	MaxUsages        int     `json:"MaxUsages"`
	Reserved         bool    `json:"Reserved"`
	ReserveModelLoad bool    `json:"ReserveModelLoad"`
	CurrentModel     *string `json:"CurrentModel"`
	InitAttempts     int     `json:"InitAttempts"`
	ModCount         int     `json:"ModCount"`
}

type statusResponse struct {
	BackendCount int            `json:"backendCount"`
	ByStatus     map[string]int `json:"byStatus"`
}
