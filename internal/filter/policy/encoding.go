package policy

import "strings"

// Message encodings reported to policies.
const (
	EncodingGSM7 = "gsm7"
	EncodingUCS2 = "ucs2"
)

// GSM 03.38 default alphabet and its extension table.
const (
	gsm7Basic     = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	gsm7Extension = "^{}\\[~]|€\f"
)

// Encoding reports how the text travels over the air: GSM-7 when every
// character is in the GSM alphabet, UCS-2 otherwise. Turkish letters such
// as ı, ş and ğ force UCS-2, which cuts segment capacity from 153 to 67
// characters.
func Encoding(text string) string {
	for _, r := range text {
		if !strings.ContainsRune(gsm7Basic, r) && !strings.ContainsRune(gsm7Extension, r) {
			return EncodingUCS2
		}
	}
	return EncodingGSM7
}
