package scanner

import (
	"encoding/json"

	containertypes "github.com/docker/docker/api/types/container"
)

// decodeStats decodes a one-shot stats response body into dst.
func decodeStats(reader containertypes.StatsResponseReader, dst *containertypes.StatsResponse) error {
	return json.NewDecoder(reader.Body).Decode(dst)
}
