package session

import (
	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
)

// spaEntry is a pending SetParameterAttributes for one path.
type spaEntry struct {
	Notification *int
	AccessList   []string
}

// syncState is the ephemeral plan derived from the current declarations
// and the current data model. It is regenerated from scratch whenever a
// response changes what the engine knows, so nothing here needs to be
// serialized.
type syncState struct {
	refreshAttributes map[device.Attr]map[*path.Path]struct{}
	refreshExist      map[*path.Path]struct{}

	// gpn maps a discovery root to a bitmask of declared path lengths
	// wanting nodes beneath it.
	gpn map[*path.Path]uint32

	spv map[*path.Path]device.Value
	spa map[*path.Path]*spaEntry

	instancesToCreate map[*path.Path]*path.InstanceSet
	instancesToDelete map[*path.Path]map[*path.Path]struct{}

	tags map[*path.Path]bool

	downloadsToCreate *path.InstanceSet
	downloadsToDelete map[*path.Path]struct{}
	downloadsValues   map[*path.Path]device.Value
	downloadsDownload map[*path.Path]int64

	reboot       int64
	factoryReset int64

	// virtualParameterDeclarations is computed per inception level on
	// demand and dropped when the level pops.
	virtualParameterDeclarations map[int][]device.Declaration
}

func newSyncState() *syncState {
	return &syncState{
		refreshAttributes: map[device.Attr]map[*path.Path]struct{}{
			device.AttrObject:       {},
			device.AttrWritable:     {},
			device.AttrValue:        {},
			device.AttrNotification: {},
			device.AttrAccessList:   {},
		},
		refreshExist:                 make(map[*path.Path]struct{}),
		gpn:                          make(map[*path.Path]uint32),
		spv:                          make(map[*path.Path]device.Value),
		spa:                          make(map[*path.Path]*spaEntry),
		instancesToCreate:            make(map[*path.Path]*path.InstanceSet),
		instancesToDelete:            make(map[*path.Path]map[*path.Path]struct{}),
		tags:                         make(map[*path.Path]bool),
		downloadsToCreate:            path.NewInstanceSet(),
		downloadsToDelete:            make(map[*path.Path]struct{}),
		downloadsValues:              make(map[*path.Path]device.Value),
		downloadsDownload:            make(map[*path.Path]int64),
		virtualParameterDeclarations: make(map[int][]device.Declaration),
	}
}
