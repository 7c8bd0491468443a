package gpu

import "testing"

func TestMatchEndpointByImage(t *testing.T) {
	spec, _ := SpecFor(ServiceTTS)

	endpoints := []*EndpointHandle{
		{ID: "ep-1", Name: "general-pool", ImageName: "someone/other-worker:latest"},
		{ID: "ep-2", Name: "audio-pool", ImageName: "fallsnowing/zonos-tts-worker:latest"},
	}

	got := MatchEndpoint(spec, endpoints)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.ID != "ep-2" {
		t.Errorf("expected ep-2, got %s", got.ID)
	}
}

func TestMatchEndpointImageBeatsKeyword(t *testing.T) {
	spec, _ := SpecFor(ServiceTTS)

	// ep-1 matches the "tts" keyword by name and is listed first, but
	// ep-2 matches the image and must win.
	endpoints := []*EndpointHandle{
		{ID: "ep-1", Name: "legacy-tts-pool", ImageName: "someone/old-worker:latest"},
		{ID: "ep-2", Name: "pool-two", ImageName: "fallsnowing/zonos-tts-worker:v2"},
	}

	got := MatchEndpoint(spec, endpoints)
	if got == nil || got.ID != "ep-2" {
		t.Fatalf("expected image match ep-2, got %+v", got)
	}
}

func TestMatchEndpointByKeyword(t *testing.T) {
	spec, _ := SpecFor(ServiceTTS)

	tests := []struct {
		name     string
		endpoint *EndpointHandle
	}{
		{"endpoint name", &EndpointHandle{ID: "ep-1", Name: "My-Voice-Pool"}},
		{"template name", &EndpointHandle{ID: "ep-1", TemplateName: "speech-template"}},
		{"image string", &EndpointHandle{ID: "ep-1", ImageName: "other/zonos-fork:latest"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MatchEndpoint(spec, []*EndpointHandle{
				{ID: "ep-0", Name: "unrelated", ImageName: "x/y:z"},
				tc.endpoint,
			})
			if got == nil || got.ID != "ep-1" {
				t.Fatalf("expected keyword match ep-1, got %+v", got)
			}
		})
	}
}

func TestMatchEndpointFirstListedWins(t *testing.T) {
	spec, _ := SpecFor(ServiceVLLM)

	endpoints := []*EndpointHandle{
		{ID: "ep-a", Name: "vllm-pool-a"},
		{ID: "ep-b", Name: "vllm-pool-b"},
	}

	got := MatchEndpoint(spec, endpoints)
	if got == nil || got.ID != "ep-a" {
		t.Fatalf("expected first listed ep-a, got %+v", got)
	}
}

func TestMatchEndpointNoMatch(t *testing.T) {
	spec, _ := SpecFor(ServiceFinetuning)

	endpoints := []*EndpointHandle{
		{ID: "ep-1", Name: "image-pool", ImageName: "someone/diffusion-worker"},
	}

	if got := MatchEndpoint(spec, endpoints); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestMatchEndpointEmptyImageNeverMatches(t *testing.T) {
	spec := ServiceSpec{Type: "custom", WorkerImage: "org/worker"}

	endpoints := []*EndpointHandle{
		{ID: "ep-1", Name: "nameless", ImageName: ""},
	}

	if got := MatchEndpoint(spec, endpoints); got != nil {
		t.Fatalf("expected no match on empty image, got %+v", got)
	}
}
