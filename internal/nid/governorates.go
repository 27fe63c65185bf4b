package nid

// governorates maps the 2-digit governorate code embedded in a national
// ID to the governorate's display name. Codes follow the official civil
// registry assignment; "88" marks citizens born abroad.
//
// The table is read-only after package initialization and is safe for
// concurrent lookups.
var governorates = map[string]string{
	"01": "Cairo",
	"02": "Alexandria",
	"03": "Port Said",
	"04": "Suez",
	"11": "Damietta",
	"12": "Dakahlia",
	"13": "Sharqia",
	"14": "Qalyubia",
	"15": "Kafr El Sheikh",
	"16": "Gharbia",
	"17": "Monufia",
	"18": "Beheira",
	"19": "Ismailia",
	"21": "Giza",
	"22": "Beni Suef",
	"23": "Faiyum",
	"24": "Minya",
	"25": "Assiut",
	"26": "Sohag",
	"27": "Qena",
	"28": "Aswan",
	"29": "Luxor",
	"31": "Red Sea",
	"32": "New Valley",
	"33": "Matruh",
	"34": "North Sinai",
	"35": "South Sinai",
	"88": "Abroad",
}

// GovernorateName resolves a 2-digit governorate code to its display
// name. The second return value reports whether the code is known.
func GovernorateName(code string) (string, bool) {
	name, ok := governorates[code]
	return name, ok
}
