package matching

// stageLadder is the canonical order used for adjacent-stage credit.
var stageLadder = []string{"preseed", "seed", "a", "b", "c", "growth"}

var stageAliases = map[string]string{
	"angel":     "preseed",
	"idea":      "preseed",
	"preseries": "seed",
	"d":         "growth",
	"e":         "growth",
	"late":      "growth",
	"expansion": "growth",
}

// sectorAliases are names treated as the same sector (full sector credit).
var sectorAliases = map[string][]string{
	"fintech":    {"financial services", "financial technology", "payments", "banking"},
	"ai":         {"artificial intelligence"},
	"healthtech": {"healthcare", "digital health", "health"},
	"edtech":     {"education", "education technology"},
	"cleantech":  {"climate", "climate tech", "clean energy", "sustainability"},
	"agritech":   {"agriculture", "agtech", "food tech"},
	"ecommerce":  {"e-commerce", "retail tech", "online retail"},
	"proptech":   {"real estate", "property technology"},
	"insurtech":  {"insurance"},
	"biotech":    {"life sciences", "biotechnology"},
}

// relatedSectors earn partial sector credit.
var relatedSectors = map[string][]string{
	"ai":         {"machine learning", "saas", "data", "deep tech", "analytics", "automation"},
	"fintech":    {"insurtech", "blockchain", "crypto", "saas", "regtech"},
	"healthtech": {"biotech", "medtech", "wellness", "ai"},
	"edtech":     {"saas", "consumer", "future of work"},
	"saas":       {"b2b", "enterprise software", "cloud", "ai"},
	"cleantech":  {"energy", "mobility", "agritech", "deep tech"},
	"agritech":   {"cleantech", "supply chain", "food"},
	"ecommerce":  {"consumer", "marketplace", "logistics", "d2c"},
	"proptech":   {"construction", "fintech", "smart cities"},
	"insurtech":  {"fintech", "saas"},
	"biotech":    {"healthtech", "medtech", "deep tech"},
	"logistics":  {"supply chain", "mobility", "ecommerce"},
	"mobility":   {"logistics", "automotive", "cleantech"},
}

var countryAliases = map[string]string{
	"us":                       "usa",
	"u.s.":                     "usa",
	"u.s.a.":                   "usa",
	"united states":            "usa",
	"united states of america": "usa",
	"america":                  "usa",
	"uk":                       "united kingdom",
	"u.k.":                     "united kingdom",
	"england":                  "united kingdom",
	"great britain":            "united kingdom",
	"uae":                      "united arab emirates",
	"ksa":                      "saudi arabia",
	"deutschland":              "germany",
}

// regionCountries groups countries into macro-regions for partial location credit.
var regionCountries = map[string][]string{
	"north america": {"usa", "canada", "mexico"},
	"europe": {"united kingdom", "germany", "france", "netherlands", "spain", "italy", "sweden",
		"ireland", "switzerland", "portugal", "denmark", "norway", "finland", "poland", "estonia", "belgium", "austria"},
	"middle east": {"united arab emirates", "saudi arabia", "qatar", "israel", "egypt", "bahrain", "kuwait", "oman", "jordan"},
	"africa":      {"nigeria", "kenya", "south africa", "ghana", "egypt", "rwanda", "morocco", "ethiopia"},
	"asia": {"india", "singapore", "china", "japan", "indonesia", "vietnam", "malaysia", "philippines",
		"thailand", "south korea", "pakistan", "bangladesh", "hong kong"},
	"latin america": {"brazil", "argentina", "chile", "colombia", "peru", "mexico"},
	"oceania":       {"australia", "new zealand"},
}
