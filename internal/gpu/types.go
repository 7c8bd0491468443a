package gpu

// ServiceType identifies a category of remote worker pool.
type ServiceType string

const (
	ServiceTTS        ServiceType = "tts"
	ServiceVLLM       ServiceType = "vllm"
	ServiceFinetuning ServiceType = "finetuning"
)

// ServiceSpec describes how to locate the endpoint pool for one service
// category. SearchKeywords are only used when no image match is found.
type ServiceSpec struct {
	Type           ServiceType
	WorkerImage    string
	EndpointName   string
	SearchKeywords []string
}

var catalog = map[ServiceType]ServiceSpec{
	ServiceTTS: {
		Type:           ServiceTTS,
		WorkerImage:    "fallsnowing/zonos-tts-worker",
		EndpointName:   "zonos-tts-worker",
		SearchKeywords: []string{"zonos", "tts", "voice", "speech"},
	},
	ServiceVLLM: {
		Type:           ServiceVLLM,
		WorkerImage:    "fallsnowing/exaone-vllm-worker",
		EndpointName:   "vllm-lora-worker",
		SearchKeywords: []string{"vllm", "llama", "lora", "generation", "chat"},
	},
	ServiceFinetuning: {
		Type:           ServiceFinetuning,
		WorkerImage:    "fallsnowing/finetuning-worker",
		EndpointName:   "finetuning-worker",
		SearchKeywords: []string{"finetuning", "training", "axolotl", "lora", "qlora"},
	},
}

// Catalog returns all known service specs in a stable order.
func Catalog() []ServiceSpec {
	return []ServiceSpec{
		catalog[ServiceTTS],
		catalog[ServiceVLLM],
		catalog[ServiceFinetuning],
	}
}

// SpecFor looks up the catalog entry for a service type.
func SpecFor(t ServiceType) (ServiceSpec, bool) {
	s, ok := catalog[t]
	return s, ok
}

// RunState mirrors the provider's infrastructure-level worker state.
type RunState string

const (
	RunStateStarting   RunState = "STARTING"
	RunStateRunning    RunState = "RUNNING"
	RunStateStopped    RunState = "STOPPED"
	RunStateFailed     RunState = "FAILED"
	RunStateTerminated RunState = "TERMINATED"
	RunStateExited     RunState = "EXITED"
)

// WorkerHandle identifies one leased worker instance.
type WorkerHandle struct {
	ID          string
	EndpointURL string
	RunState    RunState
	GPUType     string
	CostPerHour float64
}

// EndpointHandle is one logical pool of workers of a single category.
type EndpointHandle struct {
	ID           string
	Name         string
	TemplateName string
	ImageName    string
	WorkersMin   int
	WorkersMax   int
}

// EndpointHealth is the endpoint's direct health surface (primary probe).
type EndpointHealth struct {
	Jobs    JobCounts    `json:"jobs"`
	Workers WorkerCounts `json:"workers"`
}

type JobCounts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	InQueue    int `json:"inQueue"`
	Retried    int `json:"retried"`
}

type WorkerCounts struct {
	Idle         int `json:"idle"`
	Initializing int `json:"initializing"`
	Ready        int `json:"ready"`
	Running      int `json:"running"`
	Throttled    int `json:"throttled"`
	Unhealthy    int `json:"unhealthy"`
}

// EndpointStats is the aggregate view from the management API (fallback probe).
type EndpointStats struct {
	WorkersRunning   int
	WorkersThrottled int
	QueuedRequests   int
	AvgResponseTime  float64 // milliseconds
}
