package gateway

import "net/http"

// modelCatalogCreated is a fixed creation stamp for the static catalog.
const modelCatalogCreated = 1728000000

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

var catalogModels = []string{"gpt-5", "gpt-5-codex", "gpt-4.1", "gpt-4o"}

// handleModels serves the static model catalog. The upstream exposes no
// listing endpoint, so the gateway answers from a fixed set.
func handleModels(w http.ResponseWriter, _ *http.Request) {
	list := modelList{Object: "list"}
	for _, id := range catalogModels {
		list.Data = append(list.Data, modelInfo{
			ID:      id,
			Object:  "model",
			Created: modelCatalogCreated,
			OwnedBy: "openai",
		})
	}
	writeJSON(w, http.StatusOK, list)
}
