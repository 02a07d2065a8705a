package validate

import "strings"

// registry holds every validator in execution order.
var registry = []*Validator{
	idEqualsName,
	unknownFileType,
	parseFailure,
	fromVersionSufficient,
	marketplacesSubsetOfPack,
	nameTrailingSpaces,
	strictVersions,
	fromBeforeTo,
	requiredFieldsPresent,
	reputationID,
	reputationExpiration,
	descriptionEndsWithDot,
	contextReferencesNotated,
	dockerImageFormat,
	versionsBackwardCompatible,
	releaseNoteTemplates,
	releaseNoteHeadersValid,
	releaseNoteBullets,
	confJSONSchema,

	marketplaceAvailability,
	toVersionCompatible,
	fromVersionCompatible,
	scriptCycles,
	duplicateIDs,
	unknownReferences,
	deprecatedUsage,
	ambiguousCommands,
	confJSONMissing,
	confJSONDeprecated,

	xsiamLayoutSections,

	packMetadataFormat,
	packSupportValid,
	supportConsistent,
	classifierResolves,
	testsDeclared,
	testPlaybooksExist,
}

// Validators returns the registered validators in declared order.
func Validators() []*Validator {
	out := make([]*Validator, len(registry))
	copy(out, registry)
	return out
}

// Lookup returns the validator registered for code.
func Lookup(code string) (*Validator, bool) {
	for _, v := range registry {
		if strings.EqualFold(v.Code, code) {
			return v, true
		}
	}
	return nil, false
}
