package utils

// Unique removes duplicate values from a slice, keeping first occurrences in order.
func Unique[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	list := make([]T, 0, len(slice))
	for _, entry := range slice {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		list = append(list, entry)
	}
	return list
}

// Without returns the entries of slice that are not in drop.
func Without[T comparable](slice, drop []T) []T {
	skip := make(map[T]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	list := make([]T, 0, len(slice))
	for _, entry := range slice {
		if _, ok := skip[entry]; !ok {
			list = append(list, entry)
		}
	}
	return list
}
