//go:build wasm

package wasm

// This file documents the Wasm export interface an engine bundle must provide.
// The engine is librime built as a wasm32 reactor; the bridge drives it through
// flat C functions instead of the RimeApi function table.
//
// NOTE: uint32 is used for pointers because WebAssembly uses a 32-bit linear
// memory model. Bool, int and RimeSessionId are all 4 bytes on wasm32.
//
// Exported functions the engine module must implement:
//
//	void*        malloc(size_t size)
//	void         free(void* ptr)
//	void         rime_setup(RimeTraits* traits)
//	void         rime_initialize(RimeTraits* traits)
//	void         rime_finalize(void)
//	Bool         rime_start_maintenance(Bool full_check)
//	RimeSessionId rime_create_session(void)
//	Bool         rime_destroy_session(RimeSessionId session_id)
//	Bool         rime_simulate_key_sequence(RimeSessionId session_id, const char* key_sequence)
//	Bool         rime_select_candidate_on_current_page(RimeSessionId session_id, size_t index)
//	Bool         rime_change_page(RimeSessionId session_id, Bool backward)
//	void         rime_clear_composition(RimeSessionId session_id)
//	void         rime_set_option(RimeSessionId session_id, const char* option, Bool value)
//	Bool         rime_get_commit(RimeSessionId session_id, RimeCommit* commit)
//	Bool         rime_free_commit(RimeCommit* commit)
//	Bool         rime_get_context(RimeSessionId session_id, RimeContext* context)
//	Bool         rime_free_context(RimeContext* context)
//	const char*  rime_get_version(void)
//
// Optional imports the host provides:
//
//	host.log_message(level, ptr, length uint32)
