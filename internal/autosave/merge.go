package autosave

// MergeIntoResponse returns a copy of resp with an "auto_save" summary block added.
// Entries of resp["images"] (or resp["data"]) are matched to results by position:
// successful ones gain local_path and markdown_ref, failed ones gain auto_save_error.
// Entries that are not JSON objects are left as they are.
// When includeOriginalURLs is false, a successful entry's url field is renamed to
// original_url. resp itself is not modified.
func MergeIntoResponse(resp map[string]any, results []Result, includeOriginalURLs bool) map[string]any {
	out := make(map[string]any, len(resp)+1)
	for k, v := range resp {
		out[k] = v
	}

	succeeded, failed := Tally(results)
	entries := make([]map[string]any, len(results))
	for i, r := range results {
		entries[i] = r.ToMap()
	}
	out["auto_save"] = map[string]any{
		"enabled":          true,
		"total_images":     len(results),
		"successful_saves": succeeded,
		"failed_saves":     failed,
		"results":          entries,
	}

	for _, key := range []string{"images", "data"} {
		images, ok := imageList(resp[key])
		if !ok {
			continue
		}
		merged := make([]any, len(images))
		for i, e := range images {
			img, isObject := e.(map[string]any)
			if !isObject || i >= len(results) {
				merged[i] = e
				continue
			}
			merged[i] = mergeImage(img, results[i], includeOriginalURLs)
		}
		out[key] = merged
		break
	}

	return out
}

func mergeImage(img map[string]any, r Result, includeOriginalURLs bool) map[string]any {
	cp := make(map[string]any, len(img)+2)
	for k, v := range img {
		cp[k] = v
	}
	if !r.Success {
		cp["auto_save_error"] = r.Error
		return cp
	}
	cp["local_path"] = r.LocalPath
	cp["markdown_ref"] = r.MarkdownRef
	if !includeOriginalURLs {
		if u, ok := cp["url"]; ok {
			cp["original_url"] = u
			delete(cp, "url")
		}
	}
	return cp
}

// imageList accepts the list shapes a decoded JSON response may hold.
func imageList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	case []any:
		return list, true
	default:
		return nil, false
	}
}
