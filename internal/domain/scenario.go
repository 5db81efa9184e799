package domain

// DefaultGuideURL is opened for scenarios without a dedicated guide.
const DefaultGuideURL = "https://www.notion.so/wekaio/CEL-All-Info-Page-12930b0d101c80f8bdc0e188ea994709"

var scenarioGuideURLs = map[string]string{
	"setup-weka": "https://www.notion.so/wekaio/Setup-Weka-a3fce840985a4bb9b24ba521924c671c",
}

type Scenario struct {
	ID       string
	GuideURL string
}

// LookupScenario resolves the guide for a scenario id. overrides take
// precedence over the built-in table; fallback replaces DefaultGuideURL when
// non-empty.
func LookupScenario(id string, overrides map[string]string, fallback string) Scenario {
	if url, ok := overrides[id]; ok && url != "" {
		return Scenario{ID: id, GuideURL: url}
	}
	if url, ok := scenarioGuideURLs[id]; ok {
		return Scenario{ID: id, GuideURL: url}
	}
	if fallback == "" {
		fallback = DefaultGuideURL
	}
	return Scenario{ID: id, GuideURL: fallback}
}
