package builtins

import (
	"moocore/db"
	"moocore/types"
	"moocore/worker"
)

// BuiltinFunc is a function type for builtin functions
// Takes a task context and list of arguments, returns a Result
type BuiltinFunc func(ctx *types.TaskContext, args []types.Value) types.Result

// VerbCallerFunc is a callback for calling verbs on objects
// Returns the result of calling the verb, or E_VERBNF if verb not found
type VerbCallerFunc func(objID types.ObjID, verbName string, args []types.Value, ctx *types.TaskContext) types.Result

// Registry holds all registered builtin functions
type Registry struct {
	funcs      map[string]BuiltinFunc
	byID       map[int]BuiltinFunc
	nameToID   map[string]int
	signatures map[string]Signature
	nextID     int
	verbCaller VerbCallerFunc // Callback for calling verbs (set by evaluator)
}

// NewRegistry creates a new builtin function registry
func NewRegistry() *Registry {
	r := &Registry{
		funcs:      make(map[string]BuiltinFunc),
		byID:       make(map[int]BuiltinFunc),
		nameToID:   make(map[string]int),
		signatures: make(map[string]Signature),
		nextID:     0,
	}

	// Register type conversion builtins
	r.RegisterTyped("typeof", builtinTypeof, Signature{MinArity: 1, MaxArity: 1})
	r.Register("tostr", builtinTostr)
	r.RegisterTyped("toint", builtinToint, Signature{MinArity: 1, MaxArity: 1})
	r.RegisterTyped("tofloat", builtinTofloat, Signature{MinArity: 1, MaxArity: 1})
	r.RegisterTyped("toliteral", builtinToliteral, Signature{MinArity: 1, MaxArity: 1})
	r.RegisterTyped("toobj", builtinToobj, Signature{MinArity: 1, MaxArity: 1})
	r.RegisterTyped("equal", builtinEqual, Signature{MinArity: 2, MaxArity: 2})

	// Register string builtins (Layer 7.1)
	r.RegisterTyped("length", builtinLength, Signature{MinArity: 1, MaxArity: 1})
	r.RegisterTyped("strsub", builtinStrsub, Signature{MinArity: 3, MaxArity: 4,
		ArgTypes: []TypeConstraint{TypeStr, TypeStr, TypeStr, TypeAny}})
	r.RegisterTyped("strtr", builtinStrtr, Signature{MinArity: 3, MaxArity: 4,
		ArgTypes: []TypeConstraint{TypeStr, TypeStr, TypeStr, TypeAny}})
	r.RegisterTyped("index", builtinIndex, Signature{MinArity: 2, MaxArity: 3,
		ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.RegisterTyped("rindex", builtinRindex, Signature{MinArity: 2, MaxArity: 3,
		ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.RegisterTyped("strcmp", builtinStrcmp, Signature{MinArity: 2, MaxArity: 2,
		ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.RegisterTyped("upcase", builtinUpcase, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeStr}})
	r.RegisterTyped("downcase", builtinDowncase, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeStr}})
	r.RegisterTyped("capitalize", builtinCapitalize, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeStr}})
	r.Register("explode", builtinExplode)
	r.Register("implode", builtinImplode)
	r.RegisterTyped("trim", builtinTrim, Signature{MinArity: 1, MaxArity: 2, ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.RegisterTyped("ltrim", builtinLtrim, Signature{MinArity: 1, MaxArity: 2, ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.RegisterTyped("rtrim", builtinRtrim, Signature{MinArity: 1, MaxArity: 2, ArgTypes: []TypeConstraint{TypeStr, TypeStr}})
	r.Register("match", builtinMatch)
	r.Register("rmatch", builtinRmatch)
	r.Register("substitute", builtinSubstitute)
	r.Register("all_members", builtinAllMembers)
	r.Register("chr", builtinChr)
	r.Register("parse_ansi", builtinParseAnsi)
	r.Register("remove_ansi", builtinRemoveAnsi)

	// Register list builtins (Layer 7.2)
	r.RegisterTyped("listappend", builtinListappend, Signature{MinArity: 2, MaxArity: 3,
		ArgTypes: []TypeConstraint{TypeList, TypeAny, TypeInt}})
	r.RegisterTyped("listinsert", builtinListinsert, Signature{MinArity: 2, MaxArity: 3,
		ArgTypes: []TypeConstraint{TypeList, TypeAny, TypeInt}})
	r.RegisterTyped("listdelete", builtinListdelete, Signature{MinArity: 2, MaxArity: 2,
		ArgTypes: []TypeConstraint{TypeList, TypeInt}})
	r.RegisterTyped("listset", builtinListset, Signature{MinArity: 3, MaxArity: 3,
		ArgTypes: []TypeConstraint{TypeList, TypeAny, TypeInt}})
	r.RegisterTyped("setadd", builtinSetadd, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeList, TypeAny}})
	r.RegisterTyped("setremove", builtinSetremove, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeList, TypeAny}})
	r.RegisterTyped("is_member", builtinIsMember, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeAny, TypeList}})
	r.RegisterTyped("sort", builtinSort, Signature{MinArity: 1, MaxArity: 4, ArgTypes: []TypeConstraint{TypeList}})
	r.RegisterTyped("reverse", builtinReverse, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeList}})
	r.RegisterTyped("unique", builtinUnique, Signature{MinArity: 1, MaxArity: 2, ArgTypes: []TypeConstraint{TypeList}})
	r.RegisterTyped("slice", builtinSlice, Signature{MinArity: 1, MaxArity: 3, ArgTypes: []TypeConstraint{TypeList}})

	// Register math builtins (Layer 7.3)
	r.RegisterTyped("abs", builtinAbs, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("min", builtinMin, Signature{MinArity: 1, MaxArity: -1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("max", builtinMax, Signature{MinArity: 1, MaxArity: -1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.Register("random", builtinRandom)
	r.Register("frandom", builtinFrandom)
	r.Register("reseed_random", builtinReseedRandom)
	r.RegisterTyped("sqrt", builtinSqrt, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("sin", builtinSin, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("cos", builtinCos, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("tan", builtinTan, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("asin", builtinAsin, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("acos", builtinAcos, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("acosh", builtinAcosh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("atan", builtinAtan, Signature{MinArity: 1, MaxArity: 2, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("atan2", builtinAtan2, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeNumeric, TypeNumeric}})
	r.RegisterTyped("asinh", builtinAsinh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("atanh", builtinAtanh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("sinh", builtinSinh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("cosh", builtinCosh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("tanh", builtinTanh, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("exp", builtinExp, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("log", builtinLog, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("log10", builtinLog10, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("cbrt", builtinCbrt, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeNumeric}})
	r.RegisterTyped("round", builtinRound, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeFloat}})
	r.RegisterTyped("ceil", builtinCeil, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeFloat}})
	r.RegisterTyped("floor", builtinFloor, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeFloat}})
	r.RegisterTyped("trunc", builtinTrunc, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeFloat}})
	r.Register("floatstr", builtinFloatstr)
	r.Register("distance", builtinDistance)
	r.Register("relative_heading", builtinRelativeHeading)
	r.Register("simplex_noise", builtinSimplexNoise)

	// Register map builtins (Layer 7.5)
	r.RegisterTyped("mapkeys", builtinMapkeys, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeMap}})
	r.RegisterTyped("mapvalues", builtinMapvalues, Signature{MinArity: 1, MaxArity: 1, ArgTypes: []TypeConstraint{TypeMap}})
	r.RegisterTyped("mapdelete", builtinMapdelete, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeMap, TypeAny}})
	r.RegisterTyped("maphaskey", builtinMaphaskey, Signature{MinArity: 2, MaxArity: 2, ArgTypes: []TypeConstraint{TypeMap, TypeAny}})
	r.RegisterTyped("mapmerge", builtinMapmerge, Signature{MinArity: 2, MaxArity: 3, ArgTypes: []TypeConstraint{TypeMap, TypeMap}})

	// Register JSON builtins (Layer 10.1)
	r.Register("generate_json", builtinGenerateJson)
	r.Register("parse_json", builtinParseJson)

	// Register network builtins (Layer 12.5)
	r.Register("notify", builtinNotify)
	r.Register("listeners", builtinListeners)
	r.Register("listen", builtinListen)
	r.Register("unlisten", builtinUnlisten)
	r.Register("connected_players", builtinConnectedPlayers)
	r.Register("connection_name", builtinConnectionName)
	r.Register("connection_name_lookup", builtinConnectionNameLookup)
	r.Register("connection_options", builtinConnectionOptions)
	r.Register("boot_player", builtinBootPlayer)
	r.Register("switch_player", builtinSwitchPlayer)
	r.Register("idle_seconds", builtinIdleSeconds)
	r.Register("connected_seconds", builtinConnectedSeconds)
	r.Register("connection_info", builtinConnectionInfo)
	r.Register("set_connection_option", builtinSetConnectionOption)
	r.Register("connection_option", builtinConnectionOption)
	r.Register("open_network_connection", builtinOpenNetworkConnection)
	r.Register("read_http", builtinReadHTTP)
	r.Register("flush_input", builtinFlushInput)
	r.Register("force_input", builtinForceInput)
	r.Register("read", builtinRead)
	r.Register("buffered_output_length", builtinBufferedOutputLength)
	r.Register("output_delimiters", builtinOutputDelimiters)

	// Register crypto/encoding builtins (except crypt which needs store)
	r.Register("encode_base64", builtinEncodeBase64)
	r.Register("decode_base64", builtinDecodeBase64)
	r.Register("encode_binary", builtinEncodeBinary)
	r.Register("decode_binary", builtinDecodeBinary)

	// Register hash builtins
	r.Register("string_hash", builtinStringHash)
	r.Register("binary_hash", builtinBinaryHash)
	r.Register("value_hash", builtinValueHash)

	// Register HMAC builtins
	r.Register("string_hmac", builtinStringHmac)
	r.Register("binary_hmac", builtinBinaryHmac)
	r.Register("value_hmac", builtinValueHmac)

	// Register salt and random builtins
	r.Register("salt", builtinSalt)
	r.Register("random_bytes", builtinRandomBytes)
	r.Register("argon2", builtinArgon2)
	r.Register("argon2_verify", builtinArgon2Verify)
	r.Register("curl", builtinCurl)
	r.Register("url_encode", builtinUrlEncode)
	r.Register("url_decode", builtinUrlDecode)
	r.Register("pcre_cache_stats", builtinPcreCacheStats)
	r.Register("pcre_match", builtinPcreMatch)
	r.Register("pcre_replace", builtinPcreReplace)

	// Register file IO extension builtins
	r.Register("file_open", builtinFileOpen)
	r.Register("file_close", builtinFileClose)
	r.Register("file_name", builtinFileName)
	r.Register("file_openmode", builtinFileOpenmode)
	r.Register("file_read", builtinFileRead)
	r.Register("file_readline", builtinFileReadline)
	r.Register("file_readlines", builtinFileReadlines)
	r.Register("file_write", builtinFileWrite)
	r.Register("file_writeline", builtinFileWriteline)
	r.Register("file_flush", builtinFileFlush)
	r.Register("file_seek", builtinFileSeek)
	r.Register("file_tell", builtinFileTell)
	r.Register("file_eof", builtinFileEOF)
	r.Register("file_size", builtinFileSize)
	r.Register("file_mode", builtinFileMode)
	r.Register("file_last_access", builtinFileLastAccess)
	r.Register("file_last_change", builtinFileLastChange)
	r.Register("file_last_modify", builtinFileLastModify)
	r.Register("file_stat", builtinFileStat)
	r.Register("file_type", builtinFileType)
	r.Register("file_remove", builtinFileRemove)
	r.Register("file_rename", builtinFileRename)
	r.Register("file_mkdir", builtinFileMkdir)
	r.Register("file_rmdir", builtinFileRmdir)
	r.Register("file_chmod", builtinFileChmod)
	r.Register("file_list", builtinFileList)
	r.Register("file_handles", builtinFileHandles)
	r.Register("file_count_lines", builtinFileCountLines)
	r.Register("file_grep", builtinFileGrep)

	// Register sqlite extension builtins
	r.Register("sqlite_open", builtinSqliteOpen)
	r.Register("sqlite_close", builtinSqliteClose)
	r.Register("sqlite_handles", builtinSqliteHandles)
	r.Register("sqlite_info", builtinSqliteInfo)
	r.Register("sqlite_query", builtinSqliteQuery)
	r.Register("sqlite_execute", builtinSqliteExecute)
	r.Register("sqlite_last_insert_row_id", builtinSqliteLastInsertRowID)
	r.Register("sqlite_limit", builtinSqliteLimit)
	r.Register("sqlite_interrupt", builtinSqliteInterrupt)

	// Register system builtins
	r.Register("background_test", builtinBackgroundTest)
	r.Register("call_function", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinCallFunction(ctx, args, r)
	})
	r.Register("function_info", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinFunctionInfo(ctx, args, r)
	})
	r.Register("db_disk_size", builtinDbDiskSize)
	r.Register("dump_database", builtinDumpDatabase)
	r.Register("getenv", builtinGetenv)
	r.Register("read_stdin", builtinReadStdin)
	r.Register("spellcheck", builtinSpellcheck)
	r.Register("set_thread_mode", builtinSetThreadMode)
	r.Register("shutdown", builtinShutdown)
	r.Register("task_local", builtinTaskLocal)
	r.Register("set_task_local", builtinSetTaskLocal)
	r.Register("task_id", builtinTaskID)
	r.Register("ticks_left", builtinTicksLeft)
	r.Register("seconds_left", builtinSecondsLeft)
	r.Register("task_perms", builtinTaskPerms)
	r.Register("queue_info", builtinQueueInfo)
	r.Register("finished_tasks", builtinFinishedTasks)
	r.Register("thread_pool", builtinThreadPool)
	r.Register("threads", builtinThreads)
	r.Register("usage", builtinUsage)
	r.Register("malloc_stats", builtinMallocStats)
	r.Register("memory_usage", builtinMemoryUsage)
	r.Register("log_cache_stats", builtinLogCacheStats)
	r.Register("exec", builtinExec)
	r.Register("server_log", builtinServerLog)
	r.Register("server_version", builtinServerVersion)
	r.Register("time", builtinTime)
	r.Register("ftime", builtinFtime)
	r.Register("ctime", builtinCtime)

	// GC builtins
	r.RegisterTyped("run_gc", builtinRunGC, Signature{MinArity: 0, MaxArity: 0})
	r.RegisterTyped("gc_stats", builtinGCStats, Signature{MinArity: 0, MaxArity: 0})

	// Task management builtins
	r.Register("queued_tasks", builtinQueuedTasks)
	r.Register("kill_task", builtinKillTask)
	r.Register("task_stack", builtinTaskStack)
	r.Register("suspend", builtinSuspend)
	r.Register("resume", builtinResume)
	r.Register("callers", builtinCallers)
	r.Register("set_task_perms", builtinSetTaskPerms)
	r.Register("caller_perms", builtinCallerPerms)
	r.Register("raise", builtinRaise)
	r.Register("yin", builtinYin)

	// Note: eval() builtin is registered by the Evaluator via RegisterEvalBuiltin()
	// to avoid circular dependencies (eval needs parser which needs eval)

	return r
}

// Register adds a builtin function to the registry with no arity or
// type constraints beyond what the handler checks for itself.
func (r *Registry) Register(name string, fn BuiltinFunc) {
	r.RegisterTyped(name, fn, AnySignature)
}

// RegisterTyped adds a builtin function with an explicit Signature.
// Every call is checked against sig before fn ever runs, so a handler
// registered this way no longer has to re-validate its own arg count
// or types at the top (spec §4.9).
func (r *Registry) RegisterTyped(name string, fn BuiltinFunc, sig Signature) {
	checked := fn
	if sig.MinArity != 0 || sig.MaxArity != -1 || len(sig.ArgTypes) != 0 {
		checked = func(ctx *types.TaskContext, args []types.Value) types.Result {
			if code := sig.Check(args); code != types.E_NONE {
				return types.Err(code)
			}
			return fn(ctx, args)
		}
	}
	r.funcs[name] = checked
	r.signatures[name] = sig
	id := r.nextID
	r.byID[id] = checked
	r.nameToID[name] = id
	r.nextID++
}

// Signature returns the registered Signature for name, if any.
func (r *Registry) Signature(name string) (Signature, bool) {
	sig, ok := r.signatures[name]
	return sig, ok
}

// GetID returns the ID for a builtin function name
func (r *Registry) GetID(name string) (int, bool) {
	id, ok := r.nameToID[name]
	return id, ok
}

// CallByID calls a builtin function by its ID
func (r *Registry) CallByID(id int, ctx *types.TaskContext, args []types.Value) types.Result {
	fn, ok := r.byID[id]
	if !ok {
		return types.Err(types.E_VERBNF)
	}
	return fn(ctx, args)
}

// Get retrieves a builtin function by name
// Returns (function, true) if found, (nil, false) if not found
func (r *Registry) Get(name string) (BuiltinFunc, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Has checks if a builtin function is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

// SetVerbCaller sets the callback for calling verbs
func (r *Registry) SetVerbCaller(caller VerbCallerFunc) {
	r.verbCaller = caller
}

// CallVerb calls a verb on an object using the registered verb caller
// Returns E_VERBNF if no verb caller is set or if the verb is not found
func (r *Registry) CallVerb(objID types.ObjID, verbName string, args []types.Value, ctx *types.TaskContext) types.Result {
	if r.verbCaller == nil {
		return types.Err(types.E_VERBNF)
	}
	return r.verbCaller(objID, verbName, args, ctx)
}

// RegisterWorkerBuiltins registers the worker_request builtin against a
// live worker.Hub (spec 4.7/C8). Call once the scheduler has attached
// its Hub; builtins registered before this point simply don't include
// worker_request.
func (r *Registry) RegisterWorkerBuiltins(hub *worker.Hub) {
	r.Register("worker_request", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinWorkerRequest(ctx, args, hub)
	})
}

// RegisterCryptoBuiltins registers crypto builtins that need store access
func (r *Registry) RegisterCryptoBuiltins(store *db.Store) {
	r.Register("crypt", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinCrypt(ctx, args, store)
	})
}

// RegisterSystemBuiltins registers system builtins that need store access
func (r *Registry) RegisterSystemBuiltins(store *db.Store) {
	r.Register("load_server_options", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinLoadServerOptions(ctx, args, store)
	})
	r.Register("locate_by_name", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinLocateByName(ctx, args, store)
	})
	r.Register("locations", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinLocations(ctx, args, store)
	})
	r.Register("owned_objects", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinOwnedObjects(ctx, args, store)
	})
	r.Register("next_recycled_object", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinNextRecycledObject(ctx, args, store)
	})
	r.Register("recycled_objects", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinRecycledObjects(ctx, args, store)
	})
	r.Register("recreate", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinRecreate(ctx, args, store)
	})
	r.Register("waif_stats", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinWaifStats(ctx, args, store)
	})
	r.Register("verb_cache_stats", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinVerbCacheStats(ctx, args, store)
	})
	r.Register("reset_max_object", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinResetMaxObject(ctx, args, store)
	})
	r.Register("value_bytes", builtinValueBytes)

	// Re-register set_task_perms with store access so it can update
	// ctx.IsWizard when the programmer changes (matches Toast's behavior
	// where changing progr affects all subsequent wizard checks).
	r.Register("set_task_perms", func(ctx *types.TaskContext, args []types.Value) types.Result {
		return builtinSetTaskPermsWithStore(ctx, args, store)
	})
}
