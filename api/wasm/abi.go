package wasm

// Export names of the librime reactor module.
const (
	// ExportMalloc allocates guest memory. Signature: malloc(size: i32) -> i32
	ExportMalloc = "malloc"

	// ExportFree releases guest memory. Signature: free(ptr: i32)
	ExportFree = "free"

	// ExportSetup configures data directories before initialization.
	// Signature: rime_setup(traits: i32)
	ExportSetup = "rime_setup"

	// ExportInitialize loads modules. Signature: rime_initialize(traits: i32)
	ExportInitialize = "rime_initialize"

	// ExportFinalize shuts the engine down. Signature: rime_finalize()
	ExportFinalize = "rime_finalize"

	// ExportStartMaintenance deploys schemas; synchronous in wasm builds.
	// Signature: rime_start_maintenance(full_check: i32) -> i32
	ExportStartMaintenance = "rime_start_maintenance"

	// ExportCreateSession signature: rime_create_session() -> i32 (0 on failure)
	ExportCreateSession = "rime_create_session"

	// ExportDestroySession signature: rime_destroy_session(session: i32) -> i32
	ExportDestroySession = "rime_destroy_session"

	// ExportSimulateKeySequence signature: rime_simulate_key_sequence(session: i32, keys: i32) -> i32
	ExportSimulateKeySequence = "rime_simulate_key_sequence"

	// ExportSelectCandidate signature: rime_select_candidate_on_current_page(session: i32, index: i32) -> i32
	ExportSelectCandidate = "rime_select_candidate_on_current_page"

	// ExportChangePage signature: rime_change_page(session: i32, backward: i32) -> i32
	ExportChangePage = "rime_change_page"

	// ExportClearComposition signature: rime_clear_composition(session: i32)
	ExportClearComposition = "rime_clear_composition"

	// ExportSetOption signature: rime_set_option(session: i32, option: i32, value: i32)
	ExportSetOption = "rime_set_option"

	// ExportGetCommit signature: rime_get_commit(session: i32, commit: i32) -> i32
	ExportGetCommit = "rime_get_commit"

	// ExportFreeCommit signature: rime_free_commit(commit: i32) -> i32
	ExportFreeCommit = "rime_free_commit"

	// ExportGetContext signature: rime_get_context(session: i32, context: i32) -> i32
	ExportGetContext = "rime_get_context"

	// ExportFreeContext signature: rime_free_context(context: i32) -> i32
	ExportFreeContext = "rime_free_context"

	// ExportGetVersion signature: rime_get_version() -> i32 (const char*)
	ExportGetVersion = "rime_get_version"
)

// RequiredExports lists every function the bridge calls.
var RequiredExports = []string{
	ExportMalloc,
	ExportFree,
	ExportSetup,
	ExportInitialize,
	ExportFinalize,
	ExportStartMaintenance,
	ExportCreateSession,
	ExportDestroySession,
	ExportSimulateKeySequence,
	ExportSelectCandidate,
	ExportChangePage,
	ExportClearComposition,
	ExportSetOption,
	ExportGetCommit,
	ExportFreeCommit,
	ExportGetContext,
	ExportFreeContext,
	ExportGetVersion,
}

// Host module imported by the engine.
const (
	HostModuleName    = "host"
	HostLogMessage    = "log_message"
	ReactorInitialize = "_initialize"
)

// wasm32 struct layouts from rime_api.h. Every int, Bool and pointer is 4 bytes.

// RimeTraits
const (
	TraitsDataSize             = 0
	TraitsSharedDataDir        = 4
	TraitsUserDataDir          = 8
	TraitsDistributionName     = 12
	TraitsDistributionCodeName = 16
	TraitsDistributionVersion  = 20
	TraitsAppName              = 24
	TraitsModules              = 28
	TraitsMinLogLevel          = 32
	TraitsLogDir               = 36
	TraitsPrebuiltDataDir      = 40
	TraitsStagingDir           = 44
	TraitsSize                 = 48
)

// RimeCommit
const (
	CommitDataSize = 0
	CommitText     = 4
	CommitSize     = 8
)

// RimeComposition, relative to the start of the composition.
const (
	CompositionLength    = 0
	CompositionCursorPos = 4
	CompositionSelStart  = 8
	CompositionSelEnd    = 12
	CompositionPreedit   = 16
	CompositionSize      = 20
)

// RimeMenu, relative to the start of the menu.
const (
	MenuPageSize                  = 0
	MenuPageNo                    = 4
	MenuIsLastPage                = 8
	MenuHighlightedCandidateIndex = 12
	MenuNumCandidates             = 16
	MenuCandidates                = 20
	MenuSelectKeys                = 24
	MenuSize                      = 28
)

// RimeCandidate
const (
	CandidateText     = 0
	CandidateComment  = 4
	CandidateReserved = 8
	CandidateSize     = 12
)

// RimeContext
const (
	ContextDataSize          = 0
	ContextComposition       = 4
	ContextMenu              = ContextComposition + CompositionSize
	ContextCommitTextPreview = ContextMenu + MenuSize
	ContextSelectLabels      = ContextCommitTextPreview + 4
	ContextSize              = ContextSelectLabels + 4
)

// PointerSize is the size of a guest pointer.
const PointerSize = 4

// StructDataSize returns the data_size value RIME_STRUCT_INIT stores for a struct.
func StructDataSize(size uint32) uint32 {
	return size - 4
}
