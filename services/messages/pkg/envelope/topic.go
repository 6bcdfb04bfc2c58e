package envelope

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var validTopic = regexp.MustCompile(`^/xmtp/(?:0|mls/1)/[A-Za-z0-9_.=\-]+(?:/key_bundle)?/proto$`)

var topicKinds = []string{"contact", "intro", "invite", "dm", "m", "userpreferences", "privatestore"}

func wrap(name string) string {
	return "/xmtp/0/" + name + "/proto"
}

// NormalizeAddress validates a hex wallet address and returns its EIP-55
// checksummed form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func addressTopic(prefix, addr string) (string, error) {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return "", err
	}
	return wrap(prefix + norm), nil
}

func UserPrivateStoreKeyBundle(addr string) (string, error) {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return "", err
	}
	return wrap("privatestore-" + norm + "/key_bundle"), nil
}

func ContactTopic(addr string) (string, error) { return addressTopic("contact-", addr) }

func UserIntro(addr string) (string, error) { return addressTopic("intro-", addr) }

func UserInvite(addr string) (string, error) { return addressTopic("invite-", addr) }

// DirectMessageV1 is symmetric in its arguments.
func DirectMessageV1(a, b string) (string, error) {
	na, err := NormalizeAddress(a)
	if err != nil {
		return "", err
	}
	nb, err := NormalizeAddress(b)
	if err != nil {
		return "", err
	}
	addrs := []string{na, nb}
	sort.Strings(addrs)
	return wrap("dm-" + strings.Join(addrs, "-")), nil
}

func DirectMessageV2(id string) string { return wrap("m-" + id) }

func PreferenceList(identifier string) string { return wrap("userpreferences-" + identifier) }

func IsValidTopic(topic string) bool {
	return validTopic.MatchString(topic)
}

// TopicKind returns the category prefix of a valid topic, such as "invite" or
// "dm". MLS topics report "mls".
func TopicKind(topic string) (string, bool) {
	if !IsValidTopic(topic) {
		return "", false
	}
	if strings.HasPrefix(topic, "/xmtp/mls/") {
		return "mls", true
	}
	name := strings.TrimPrefix(topic, "/xmtp/0/")
	for _, kind := range topicKinds {
		if strings.HasPrefix(name, kind+"-") {
			return kind, true
		}
	}
	return "other", true
}
