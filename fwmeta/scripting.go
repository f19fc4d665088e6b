package fwmeta

// Lua scripting over firmware images. Offsets handed to and from scripts are
// 0-based byte offsets, the same as everywhere else, not lua indexes.

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	lua "github.com/yuin/gopher-lua"
)

// General tracking for a whole lua script run
type ScriptState struct {
	FileDirectory string
	Arguments     []string
	MaxImageSize  int64
	TextMode      TextMode
	Logs          strings.Builder
}

// Get full path to given file requested by script. The system has a way to set
// the "working directory" for the whole script, that's all
func (state *ScriptState) FilePath(path string) string {
	if state.FileDirectory == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(state.FileDirectory, path)
}

// Add a function to the given lua state that actually tracks with our own state.
// Usually lua functions don't accept extra go parameters
func (state *ScriptState) AddFunction(name string, f func(*lua.LState, *ScriptState) int, L *lua.LState) {
	L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int { return f(L, state) }))
}

func pullString(table *lua.LTable, key string, done func(string)) bool {
	tstring, ok := table.RawGetString(key).(lua.LString)
	if ok {
		done(string(tstring))
	}
	return ok
}

func pullInt(table *lua.LTable, key string, done func(int)) bool {
	tnum, ok := table.RawGetString(key).(lua.LNumber)
	if ok {
		done(int(tnum))
	}
	return ok
}

func pullBool(table *lua.LTable, key string, done func(bool)) bool {
	tbool, ok := table.RawGetString(key).(lua.LBool)
	if ok {
		done(bool(tbool))
	}
	return ok
}

func metadataToTable(L *lua.LState, m *Metadata, offset int) *lua.LTable {
	table := L.CreateTable(0, 8)
	table.RawSetString("env", lua.LString(m.EnvName))
	table.RawSetString("device", lua.LString(m.DeviceType))
	table.RawSetString("major", lua.LNumber(m.Version.Major))
	table.RawSetString("minor", lua.LNumber(m.Version.Minor))
	table.RawSetString("patch", lua.LNumber(m.Version.Patch))
	table.RawSetString("version", lua.LString(m.Version.String()))
	table.RawSetString("build_date", lua.LString(m.BuildDate))
	table.RawSetString("offset", lua.LNumber(offset))
	return table
}

// The reverse of metadataToTable. A "version" string is used only when the
// individual major/minor/patch numbers are missing.
func tableToMetadata(L *lua.LState, table *lua.LTable) *Metadata {
	var m Metadata
	pullString(table, "env", func(s string) { m.EnvName = s })
	pullString(table, "device", func(s string) { m.DeviceType = s })
	pullString(table, "build_date", func(s string) { m.BuildDate = s })
	pullString(table, "version", func(s string) {
		v, err := ParseVersion(s)
		if err != nil {
			L.RaiseError("Bad version in metadata table: %s", err)
		}
		m.Version = v
	})
	setByte := func(key string, target *uint8) {
		pullInt(table, key, func(n int) {
			if n < 0 || n > 255 {
				L.RaiseError("Version component %s out of range: %d", key, n)
			}
			*target = uint8(n)
		})
	}
	setByte("major", &m.Version.Major)
	setByte("minor", &m.Version.Minor)
	setByte("patch", &m.Version.Patch)
	return &m
}

func luaArguments(L *lua.LState, state *ScriptState) int {
	for _, a := range state.Arguments {
		L.Push(lua.LString(a))
	}
	return len(state.Arguments)
}

// Logs are collected and handed back to the caller, tab separated like print
func luaLog(L *lua.LState, state *ScriptState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	line := strings.Join(parts, "\t")
	state.Logs.WriteString(line)
	state.Logs.WriteString("\n")
	logger.Debugf("lua: %s", line)
	return 0
}

func luaLoadImage(L *lua.LState, state *ScriptState) int {
	path := state.FilePath(L.CheckString(1))
	img, err := LoadImage(path, FormatAuto, state.MaxImageSize)
	if err != nil {
		L.RaiseError("Couldn't load image %s: %s", path, err)
		return 0
	}
	L.Push(lua.LString(string(img.Data)))
	return 1
}

// locate(data[, start]) -> offset or nil
func luaLocate(L *lua.LState, state *ScriptState) int {
	data := []byte(L.CheckString(1))
	offset := LocateFrom(data, L.OptInt(2, 0))
	if offset < 0 {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LNumber(offset))
	}
	return 1
}

// decode_metadata(data[, offset]) -> table, or nil + error message
func luaDecodeMetadata(L *lua.LState, state *ScriptState) int {
	data := []byte(L.CheckString(1))
	offset := L.OptInt(2, 0)
	if offset < 0 || offset > len(data) {
		L.RaiseError("Offset %d outside of %d byte data", offset, len(data))
		return 0
	}
	m, err := Decode(data[offset:], state.TextMode)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(metadataToTable(L, m, offset))
	return 1
}

// find_metadata(path) -> table or nil
func luaFindMetadata(L *lua.LState, state *ScriptState) int {
	path := state.FilePath(L.CheckString(1))
	img, err := LoadImage(path, FormatAuto, state.MaxImageSize)
	if err != nil {
		L.RaiseError("Couldn't load image %s: %s", path, err)
		return 0
	}
	located, found, err := Find(img.Data, state.TextMode)
	if err != nil {
		L.RaiseError("Couldn't decode metadata in %s: %s", path, err)
		return 0
	}
	if !found {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(metadataToTable(L, located.Metadata, located.Offset))
	return 1
}

// encode_metadata(table[, strict]) -> 128 byte string
func luaEncodeMetadata(L *lua.LState, state *ScriptState) int {
	table := L.CheckTable(1)
	m := tableToMetadata(L, table)
	strict := L.OptBool(2, false)
	pullBool(table, "strict", func(b bool) { strict = strict || b })
	policy := TruncateSilently
	if strict {
		policy = TruncateStrict
	}
	block, err := Encode(m, policy)
	if err != nil {
		L.RaiseError("Couldn't encode metadata: %s", err)
		return 0
	}
	L.Push(lua.LString(string(block)))
	return 1
}

func luaWriteFile(L *lua.LState, state *ScriptState) int {
	path := state.FilePath(L.CheckString(1))
	data := L.CheckString(2)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		L.RaiseError("Couldn't write file %s: %s", path, err)
		return 0
	}
	logger.Debugf("Lua script wrote %d bytes to %s", len(data), path)
	return 0
}

// Function for lua scripts that lets you parse hex
func luaHex(L *lua.LState) int {
	raw, err := hex.DecodeString(L.CheckString(1))
	if err != nil {
		L.RaiseError("Error decoding hex in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(raw)))
	return 1
}

// Simple function to decode a toml string into a lua table. Returns the table.
func luaToml(L *lua.LState) int {
	tree, err := toml.Load(L.CheckString(1))
	if err != nil {
		L.RaiseError("Couldn't parse toml: %s", err)
		return 0
	}
	L.Push(luaDecodeValue(L, tree.ToMap()))
	return 1
}

// Convert the value to a lua value. Only handles what toml decoding produces;
// everything else is nil
func luaDecodeValue(L *lua.LState, value interface{}) lua.LValue {
	switch converted := value.(type) {
	case bool:
		return lua.LBool(converted)
	case float64:
		return lua.LNumber(converted)
	case int64:
		return lua.LNumber(converted)
	case string:
		return lua.LString(converted)
	case []interface{}:
		arr := L.CreateTable(len(converted), 0)
		for _, item := range converted {
			arr.Append(luaDecodeValue(L, item))
		}
		return arr
	case []map[string]interface{}:
		arr := L.CreateTable(len(converted), 0)
		for _, item := range converted {
			arr.Append(luaDecodeValue(L, item))
		}
		return arr
	case map[string]interface{}:
		tbl := L.CreateTable(0, len(converted))
		for key, item := range converted {
			tbl.RawSetH(lua.LString(key), luaDecodeValue(L, item))
		}
		return tbl
	}
	return lua.LNil
}

// Run the given script with the metadata functions available. Returns
// everything the script logged.
func RunLuaScript(script string, arguments []string, dir string) (string, error) {
	state := ScriptState{
		FileDirectory: dir,
		Arguments:     arguments,
		TextMode:      TextIgnore,
	}
	return state.Run(script)
}

func (state *ScriptState) Run(script string) (string, error) {
	L := lua.NewState()
	defer L.Close()

	state.AddFunction("arguments", luaArguments, L)
	state.AddFunction("log", luaLog, L)
	state.AddFunction("load_image", luaLoadImage, L)
	state.AddFunction("locate", luaLocate, L)
	state.AddFunction("decode_metadata", luaDecodeMetadata, L)
	state.AddFunction("find_metadata", luaFindMetadata, L)
	state.AddFunction("encode_metadata", luaEncodeMetadata, L)
	state.AddFunction("write_file", luaWriteFile, L)
	L.SetGlobal("hex", L.NewFunction(luaHex))
	L.SetGlobal("toml", L.NewFunction(luaToml))
	L.SetGlobal("block_size", lua.LNumber(BlockSize))

	err := L.DoString(script)
	return state.Logs.String(), err
}
