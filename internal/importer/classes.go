package importer

// classItems maps class-defining items (epic weapons and their upgrades,
// which only one class can hold) to that class
var classItems = map[int]string{
	5532:  "CLR",
	10099: "PAL",
	20488: "RNG",
	14341: "SHD",
	20490: "DRU",
	10652: "MNK",
	20542: "BRD",
	11057: "ROG",
	10651: "SHM",
	20544: "NEC",
	14340: "WIZ",
	28034: "MAG",
	10650: "ENC",
	8495:  "BST",
	18398: "BER",
	10908: "WAR",
}

// dualWielders are the classes that can hold one-hand weapons in the ranged
// slot's place, so a Range row may carry a melee item
var dualWielders = map[string]bool{
	"BER": true,
	"BRD": true,
	"BST": true,
	"MNK": true,
	"RNG": true,
	"ROG": true,
	"WAR": true,
}

// ClassForItem returns the class an item id identifies, if any
func ClassForItem(id int) (string, bool) {
	class, ok := classItems[id]
	return class, ok
}
