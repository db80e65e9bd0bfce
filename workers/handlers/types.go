package handlers

type APIResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SwapCreatedResponse struct {
	Status string `json:"status"`
	Swap   any    `json:"swap"`
	// shown once, the service keeps only its hash
	Secret string `json:"secret"`
}

type FeeResponse struct {
	Status string `json:"status"`
	Fee    any    `json:"fee"`
}
