// ABOUTME: Property tag names accepted on the command line
// ABOUTME: A tag is a well known name or a hex number such as 0x3001001F

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/mapi-bridge/internal/mapi"
)

var tagNames = map[string]mapi.PropTag{
	"subject":  mapi.PropTagSubject,
	"name":     mapi.PropTagDisplayName,
	"email":    mapi.PropTagEmailAddress,
	"given":    mapi.PropTagGivenName,
	"surname":  mapi.PropTagSurname,
	"company":  mapi.PropTagCompanyName,
	"business": mapi.PropTagBusinessPhone,
	"mobile":   mapi.PropTagMobilePhone,
	"created":  mapi.PropTagCreationTime,
	"modified": mapi.PropTagLastModified,
	"attach":   mapi.PropTagHasAttach,
	"class":    mapi.PropTagMessageClass,
	"photo":    mapi.PropTagContactPhoto,
}

// defaultTags are shown when props is given no tags.
var defaultTags = []string{"class", "name", "given", "surname", "email", "company", "subject", "modified"}

func parseTag(s string) (mapi.PropTag, error) {
	if t, ok := tagNames[strings.ToLower(s)]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown property %q (names: %s)", s, strings.Join(knownTags(), ", "))
	}
	return mapi.PropTag(n), nil
}

func parseTags(names []string) ([]mapi.PropTag, error) {
	tags := make([]mapi.PropTag, len(names))
	for i, n := range names {
		t, err := parseTag(n)
		if err != nil {
			return nil, err
		}
		tags[i] = t
	}
	return tags, nil
}

func knownTags() []string {
	names := make([]string, 0, len(tagNames))
	for n := range tagNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
