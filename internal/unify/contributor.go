package unify

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

const (
	contributorDetails = "### %s Contributed Integration\n" +
		"#### Integration Author: %s\n" +
		"Support and maintenance for this integration are provided by the author. " +
		"Please use the following contact details:"

	communityDetails = "### Community Contributed Integration\n" +
		"#### Integration Author: %s\n" +
		"No support or maintenance is provided by the author. Customers are encouraged " +
		"to engage with the user community for questions and guidance at the " +
		"[Cortex XSOAR Live Discussions](https://live.paloaltonetworks.com/" +
		"t5/cortex-xsoar-discussions/bd-p/Cortex_XSOAR_Discussions)."
)

var contributedHeader = regexp.MustCompile(`### .* Contributed Integration`)

// contributors are the pack support values that get a contributor notice.
var contributors = map[string]bool{"partner": true, "developer": true, "community": true}

// addContributorNotice marks integrations of partner and community packs in
// their display name and detailed description.
func (u *Unifier) addContributorNotice(pkg *packageDoc) error {
	pack := packOf(pkg.dir)
	if pack == "" {
		return nil
	}
	data, err := readOptional(u.repo, path.Join(content.PacksDir, pack, content.PackMetadataFile))
	if err != nil {
		return fmt.Errorf("reading pack metadata: %w", err)
	}
	if data == nil {
		return nil
	}
	meta, err := content.LoadBody(content.PackMetadataFile, data)
	if err != nil {
		return fmt.Errorf("pack %s metadata: %w", pack, err)
	}
	support := strings.ToLower(content.String(meta, "support"))
	if !contributors[support] {
		return nil
	}
	tier := strings.ToUpper(support[:1]) + support[1:]

	if display := lookupString(pkg.doc, "display"); display != "" && !strings.Contains(display, " Contribution)") {
		pkg.doc = put(pkg.doc, "display", display+" ("+tier+" Contribution)")
	}

	existing := lookupString(pkg.doc, "detaileddescription")
	if contributedHeader.MatchString(existing) {
		return nil
	}
	author := content.String(meta, "author")
	var notice string
	if support == "community" {
		notice = fmt.Sprintf(communityDetails, author)
	} else {
		notice = fmt.Sprintf(contributorDetails, tier, author)
		for _, email := range contactEmails(meta) {
			notice += fmt.Sprintf("\n- **Email**: [%s](mailto:%s)", email, email)
		}
		if url := content.String(meta, "url"); url != "" {
			notice += fmt.Sprintf("\n- **URL**: [%s](%s)", url, url)
		}
	}
	pkg.doc = put(pkg.doc, "detaileddescription", notice+"\n***\n"+existing)
	return nil
}

func contactEmails(meta map[string]any) []string {
	var out []string
	for _, e := range content.Strings(meta, "email") {
		for part := range strings.SplitSeq(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
