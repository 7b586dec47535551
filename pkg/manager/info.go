package manager

import (
	"github.com/foomo/templatestore/pkg/storage"
)

// StorageInfo describes the usage of the bound backend
type StorageInfo struct {
	Type               storage.Type `json:"type"`
	State              State        `json:"state"`
	Used               int64        `json:"used"`
	Available          int64        `json:"available"`
	Percentage         float64      `json:"percentage"`
	UsedFormatted      string       `json:"usedFormatted"`
	AvailableFormatted string       `json:"availableFormatted"`
}

func newStorageInfo(typ storage.Type, state State, info storage.Info) StorageInfo {
	return StorageInfo{
		Type:               typ,
		State:              state,
		Used:               info.Used,
		Available:          info.Available,
		Percentage:         info.Percentage,
		UsedFormatted:      storage.FormatBytes(info.Used),
		AvailableFormatted: storage.FormatBytes(info.Available),
	}
}
