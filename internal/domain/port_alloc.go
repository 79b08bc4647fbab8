package domain

// AllocatePort 在 [min, max] 内返回最小的未占用端口，无可用端口时 ok 为 false。
func AllocatePort(min, max int32, used map[int32]struct{}) (port int32, ok bool) {
	for p := int64(min); p <= int64(max); p++ {
		if _, taken := used[int32(p)]; !taken {
			return int32(p), true
		}
	}
	return 0, false
}
