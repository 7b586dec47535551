package database

import (
	"encoding/binary"
)

const (
	recordPrefix       = "tpl:"
	indexPrefix        = "idx:"
	nameIndexPrefix    = indexPrefix + "name:"
	createdIndexPrefix = indexPrefix + "created:"
	updatedIndexPrefix = indexPrefix + "updated:"
)

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// nameKey format: prefix name \x00 id
func nameKey(name, id string) []byte {
	return []byte(nameIndexPrefix + name + "\x00" + id)
}

func namePrefix(name string) []byte {
	return []byte(nameIndexPrefix + name + "\x00")
}

func createdKey(ms int64, id string) []byte {
	return timeKey(createdIndexPrefix, ms, id)
}

func updatedKey(ms int64, id string) []byte {
	return timeKey(updatedIndexPrefix, ms, id)
}

// timeKey format: prefix ms(8 bytes big endian) id
// Big endian keeps the lexicographic key order equal to the time order.
func timeKey(prefix string, ms int64, id string) []byte {
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(ms))
	copy(buf[offset+8:], id)
	return buf
}

// idFromTimeKey extracts the id from a created or updated index key
func idFromTimeKey(prefix string, key []byte) string {
	return string(key[len(prefix)+8:])
}

// seekEnd returns a key sorting after every key with prefix
func seekEnd(prefix string) []byte {
	return append([]byte(prefix), 0xff)
}
