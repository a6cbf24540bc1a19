package image

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-weval/module"
)

// Update writes the image back into m. Every memory in the image loses all
// of its active data segments and gets exactly one segment at offset 0
// holding a copy of the current buffer.
func Update(m *module.Module, im *Image) {
	for _, id := range im.MemoryIDs() {
		if int(id) >= len(m.Memories) {
			panic(fmt.Sprintf("image: %s does not exist in the module", id))
		}
		mem := im.Memories[id]
		data := make([]byte, len(mem.Bytes))
		copy(data, mem.Bytes)
		m.Memories[id].Segments = []module.Segment{{Offset: 0, Data: data}}
		Logger().Debug("memory written back",
			zap.Stringer("memory", id),
			zap.Int("bytes", len(data)))
	}
}
