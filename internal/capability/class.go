// Package capability compiles declarative permission rules into immutable
// per-class matchers and answers allow/deny questions for native operations.
//
// Every native operation reachable from a script names a resource class and a
// subject string. The adapter for that class decides: deny patterns win,
// then allow patterns, and anything unmatched is denied.
package capability

import "fmt"

// Class identifies a kind of native resource.
type Class string

// Recognized resource classes.
const (
	ClassFSRead       Class = "fs.read"
	ClassFSWrite      Class = "fs.write"
	ClassNetConnect   Class = "net.connect"
	ClassNetListen    Class = "net.listen"
	ClassUIWindow     Class = "ui.window"
	ClassUIDialog     Class = "ui.dialog"
	ClassUIMenu       Class = "ui.menu"
	ClassUITray       Class = "ui.tray"
	ClassProcessSpawn Class = "process.spawn"
	ClassProcessEnv   Class = "process.env"
	ClassIPC          Class = "ipc"
	ClassWasmLoad     Class = "wasm.load"
	ClassWasmPreopen  Class = "wasm.preopen"
)

// RiskLevel indicates how dangerous granting a class is.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh

	// RiskCritical indicates maximum security risk.
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassInfo describes how subjects of a class are tokenized and how risky
// the class is.
type ClassInfo struct {
	Class       Class
	Description string
	RiskLevel   RiskLevel

	// Separator splits subjects and patterns into segments. Zero means the
	// whole subject is a single segment.
	Separator byte

	// Path enables "~" expansion against the home directory.
	Path bool

	// HostPort makes patterns without a port match any port.
	HostPort bool
}

var classRegistry = map[Class]ClassInfo{
	ClassFSRead: {
		Class: ClassFSRead, Description: "Read files and directories",
		RiskLevel: RiskMedium, Separator: '/', Path: true,
	},
	ClassFSWrite: {
		Class: ClassFSWrite, Description: "Create, modify and remove files",
		RiskLevel: RiskHigh, Separator: '/', Path: true,
	},
	ClassNetConnect: {
		Class: ClassNetConnect, Description: "Open outbound connections",
		RiskLevel: RiskHigh, Separator: ':', HostPort: true,
	},
	ClassNetListen: {
		Class: ClassNetListen, Description: "Accept inbound connections",
		RiskLevel: RiskHigh, Separator: ':', HostPort: true,
	},
	ClassUIWindow: {
		Class: ClassUIWindow, Description: "Create and control windows",
		RiskLevel: RiskLow, Separator: '.',
	},
	ClassUIDialog: {
		Class: ClassUIDialog, Description: "Show modal dialogs",
		RiskLevel: RiskLow, Separator: '.',
	},
	ClassUIMenu: {
		Class: ClassUIMenu, Description: "Show context menus",
		RiskLevel: RiskLow, Separator: '.',
	},
	ClassUITray: {
		Class: ClassUITray, Description: "Update the status area",
		RiskLevel: RiskLow, Separator: '.',
	},
	ClassProcessSpawn: {
		Class: ClassProcessSpawn, Description: "Spawn child processes",
		RiskLevel: RiskCritical, Separator: '/', Path: true,
	},
	ClassProcessEnv: {
		Class: ClassProcessEnv, Description: "Read environment variables",
		RiskLevel: RiskMedium,
	},
	ClassIPC: {
		Class: ClassIPC, Description: "Exchange messages with render surfaces",
		RiskLevel: RiskLow, Separator: '.',
	},
	ClassWasmLoad: {
		Class: ClassWasmLoad, Description: "Load WebAssembly modules",
		RiskLevel: RiskHigh, Separator: '/', Path: true,
	},
	ClassWasmPreopen: {
		Class: ClassWasmPreopen, Description: "Expose host directories to WebAssembly modules",
		RiskLevel: RiskHigh, Separator: '/', Path: true,
	},
}

// aliases maps shorthand manifest keys to canonical classes.
var aliases = map[string]Class{
	"net":     ClassNetConnect,
	"process": ClassProcessSpawn,
	"env":     ClassProcessEnv,
	"wasm":    ClassWasmLoad,
}

// Lookup resolves a class name or alias.
func Lookup(name string) (ClassInfo, bool) {
	if c, ok := aliases[name]; ok {
		name = string(c)
	}
	info, ok := classRegistry[Class(name)]
	return info, ok
}

// Info returns metadata for a class. It panics for unknown classes, which
// only happens on programmer error.
func (c Class) Info() ClassInfo {
	info, ok := classRegistry[c]
	if !ok {
		panic(fmt.Sprintf("capability: unknown class %q", string(c)))
	}
	return info
}

// AllClasses returns every recognized class in a stable order.
func AllClasses() []Class {
	return []Class{
		ClassFSRead, ClassFSWrite,
		ClassNetConnect, ClassNetListen,
		ClassUIWindow, ClassUIDialog, ClassUIMenu, ClassUITray,
		ClassProcessSpawn, ClassProcessEnv,
		ClassIPC,
		ClassWasmLoad, ClassWasmPreopen,
	}
}
