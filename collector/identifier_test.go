package collector

import (
	"testing"

	gta "gotest.tools/v3/assert"
)

func TestParseIdentifier(t *testing.T) {
	tT := map[string]struct {
		name          string
		wantBuilding  string
		wantApartment string
	}{
		"building and apartment": {
			name:          "Örmező A12",
			wantBuilding:  "A",
			wantApartment: "12",
		},
		"building without apartment": {
			name:          "Örmező B",
			wantBuilding:  "B",
			wantApartment: "",
		},
		"unrelated name": {
			name:          "Random House",
			wantBuilding:  "-",
			wantApartment: "-",
		},
		"no-break space separator": {
			name:          "Örmező\u00a0A12",
			wantBuilding:  "A",
			wantApartment: "12",
		},
		"ideographic space separator": {
			name:          "Örmező\u3000F4",
			wantBuilding:  "F",
			wantApartment: "4",
		},
		"double acute initial": {
			name:          "Őrmező C7",
			wantBuilding:  "C",
			wantApartment: "7",
		},
		"lower case initial": {
			name:          "örmező D3",
			wantBuilding:  "D",
			wantApartment: "3",
		},
		"no space before building": {
			name:          "ÖrmezőE21",
			wantBuilding:  "E",
			wantApartment: "21",
		},
		"separator between building and apartment": {
			name:          "Örmező F / lakás 104",
			wantBuilding:  "F",
			wantApartment: "104",
		},
		"only the first digit run counts": {
			name:          "Örmező A12 B34",
			wantBuilding:  "A",
			wantApartment: "12",
		},
		"decomposed accents still match": {
			name:          "O\u0308rmezo\u030b A5",
			wantBuilding:  "A",
			wantApartment: "5",
		},
		"town name must lead": {
			name:          "Lakás Örmező A12",
			wantBuilding:  "-",
			wantApartment: "-",
		},
		"plain O is not the town name": {
			name:          "Ormezo A12",
			wantBuilding:  "-",
			wantApartment: "-",
		},
		"digit is not a building letter": {
			name:          "Örmező 12",
			wantBuilding:  "-",
			wantApartment: "-",
		},
		"two spaces are not allowed": {
			name:          "Örmező  A12",
			wantBuilding:  "-",
			wantApartment: "-",
		},
		"empty name": {
			name:          "",
			wantBuilding:  "-",
			wantApartment: "-",
		},
	}
	for tName, test := range tT {
		t.Run(tName, func(t *testing.T) {
			building, apartment := ParseIdentifier(test.name)
			gta.Equal(t, test.wantBuilding, building)
			gta.Equal(t, test.wantApartment, apartment)
		})
	}
}
