package inject

import (
	"fmt"

	"howett.net/plist"
)

// ParsePlist decodes either a binary (bplist00) or XML property list
// into a generic tree of map[string]interface{}, []interface{},
// string, (u)int64, float64, bool, and []byte, via howett.net/plist's
// format-sniffing decoder.
func ParsePlist(data []byte) (interface{}, error) {
	var v interface{}
	if err := plist.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse plist: %w", err)
	}
	return v, nil
}

// ParseManifestSinfPaths extracts the SinfPaths string array from a
// parsed SC_Info/Manifest.plist.
func ParseManifestSinfPaths(data []byte) ([]string, bool) {
	root, err := ParsePlist(data)
	if err != nil {
		return nil, false
	}
	dict, ok := root.(map[string]interface{})
	if !ok {
		return nil, false
	}
	raw, ok := dict["SinfPaths"]
	if !ok {
		return nil, false
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	var out []string
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// ParseInfoPlistExecutable extracts CFBundleExecutable from a parsed
// Info.plist.
func ParseInfoPlistExecutable(data []byte) (string, bool) {
	root, err := ParsePlist(data)
	if err != nil {
		return "", false
	}
	dict, ok := root.(map[string]interface{})
	if !ok {
		return "", false
	}
	exec, ok := dict["CFBundleExecutable"].(string)
	return exec, ok
}

// ConvertXMLToBinaryPlist re-encodes an XML property list as binary
// (bplist00), the format iOS's installd expects for embedded.mobileprovision
// and similar manifest entries.
func ConvertXMLToBinaryPlist(xmlData []byte) ([]byte, error) {
	var v interface{}
	if err := plist.Unmarshal(xmlData, &v); err != nil {
		return nil, fmt.Errorf("decode xml plist: %w", err)
	}
	out, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		return nil, fmt.Errorf("encode binary plist: %w", err)
	}
	return out, nil
}
