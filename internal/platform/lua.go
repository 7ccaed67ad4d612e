package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable creates a read-only platform table and injects it
// into the Lua state as a global. This must run before loading any user
// configuration code.
func InjectPlatformTable(L *lua.LState, info *Info) error {
	platformTable := L.NewTable()

	L.SetField(platformTable, "os", lua.LString(info.OS))
	L.SetField(platformTable, "arch", lua.LString(info.Arch))
	L.SetField(platformTable, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(platformTable, "is_macos", lua.LBool(info.IsMacOS()))

	if info.Platform != "" {
		L.SetField(platformTable, "distro", lua.LString(info.Platform))
		L.SetField(platformTable, "distro_version", lua.LString(info.Version))
	} else {
		L.SetField(platformTable, "distro", lua.LNil)
		L.SetField(platformTable, "distro_version", lua.LNil)
	}

	// when(condition, value) returns value if condition holds, nil
	// otherwise. List extraction skips nil entries, so configs can
	// write platform-conditional tier paths inline.
	L.SetField(platformTable, "when", L.NewFunction(func(L *lua.LState) int {
		cond := L.CheckBool(1)
		value := L.Get(2)
		if cond {
			L.Push(value)
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("platform", makeReadOnly(L, platformTable))
	return nil
}

// makeReadOnly wraps a table in a proxy whose metatable redirects reads
// to the original and rejects every write.
func makeReadOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only and cannot be modified")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
