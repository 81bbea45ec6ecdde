package pkg

// Contains check list contains value
func Contains(list []string, val string) bool {
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}

// AppendIfNotExists append value when list not contains it
func AppendIfNotExists(list []string, val string) []string {
	if Contains(list, val) {
		return list
	}
	return append(list, val)
}
