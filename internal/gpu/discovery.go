package gpu

import "strings"

// MatchEndpoint picks the endpoint pool for a service out of the pools
// visible to the account. Rules, in priority order:
//
//  1. Worker image match, exact or substring in either direction.
//  2. Case-insensitive substring match of any search keyword against the
//     endpoint name, template name, or image string.
//
// Within each rule the first match wins, in the order the provider
// listed the pools. Returns nil when nothing matches.
func MatchEndpoint(spec ServiceSpec, endpoints []*EndpointHandle) *EndpointHandle {
	for _, ep := range endpoints {
		if imageMatches(spec.WorkerImage, ep.ImageName) {
			return ep
		}
	}

	for _, ep := range endpoints {
		name := strings.ToLower(ep.Name)
		tmpl := strings.ToLower(ep.TemplateName)
		image := strings.ToLower(ep.ImageName)

		for _, keyword := range spec.SearchKeywords {
			kw := strings.ToLower(keyword)
			if strings.Contains(name, kw) || strings.Contains(tmpl, kw) || strings.Contains(image, kw) {
				return ep
			}
		}
	}

	return nil
}

func imageMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return strings.Contains(got, want) || strings.Contains(want, got)
}
