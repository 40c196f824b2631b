package lunar

import (
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// cycleBaseYear is a lunar year whose sexagenary name is 甲子 (stem 0, branch 0).
const cycleBaseYear = 1984

var heavenlyStems = []string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
var earthlyBranches = []string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}
var zodiacSymbols = []string{"鼠", "牛", "虎", "兔", "龍", "蛇", "馬", "羊", "猴", "雞", "狗", "豬"}

var monthNames = []string{"正月", "二月", "三月", "四月", "五月", "六月", "七月", "八月", "九月", "十月", "冬月", "腊月"}
var dayNames = []string{
	"初一", "初二", "初三", "初四", "初五", "初六", "初七", "初八", "初九", "初十",
	"十一", "十二", "十三", "十四", "十五", "十六", "十七", "十八", "十九", "二十",
	"廿一", "廿二", "廿三", "廿四", "廿五", "廿六", "廿七", "廿八", "廿九", "三十",
}

const leapPrefix = "闰"

// Date is a day of the Chinese lunisolar calendar.
type Date struct {
	Year  int
	Month int // 1..12
	Day   int // 1..30
	Leap  bool
}

// Converter turns solar (Gregorian) dates into lunar dates and their labels.
// Only the calendar day of the given time is used, in the time's own location.
type Converter struct{}

func NewConverter() *Converter {
	return &Converter{}
}

func (c *Converter) ToLunar(date time.Time) Date {
	l := calendar.NewSolarFromYmd(date.Year(), int(date.Month()), date.Day()).GetLunar()
	month := l.GetMonth()
	leap := false
	if month < 0 {
		month = -month
		leap = true
	}
	return Date{
		Year:  l.GetYear(),
		Month: month,
		Day:   l.GetDay(),
		Leap:  leap,
	}
}

// GanzhiYear returns the sexagenary name of the lunar year containing date, e.g. "甲辰".
// The year changes at the lunar new year, not on January 1st.
func (c *Converter) GanzhiYear(date time.Time) string {
	year := c.ToLunar(date).Year
	return heavenlyStems[cycleIndex(year, len(heavenlyStems))] + earthlyBranches[cycleIndex(year, len(earthlyBranches))]
}

// Zodiac returns the zodiac animal of the lunar year containing date.
func (c *Converter) Zodiac(date time.Time) string {
	year := c.ToLunar(date).Year
	return zodiacSymbols[cycleIndex(year, len(earthlyBranches))]
}

func cycleIndex(year int, length int) int {
	return ((year-cycleBaseYear)%length + length) % length
}

// MonthName returns the display name of a lunar month, prefixed with 闰 for leap months.
func MonthName(d Date) string {
	if d.Month < 1 || d.Month > len(monthNames) {
		return ""
	}
	if d.Leap {
		return leapPrefix + monthNames[d.Month-1]
	}
	return monthNames[d.Month-1]
}

func DayName(d Date) string {
	if d.Day < 1 || d.Day > len(dayNames) {
		return ""
	}
	return dayNames[d.Day-1]
}

// ShortLabel is the month name on the first day of a lunar month and the day name otherwise.
func ShortLabel(d Date) string {
	if d.Day == 1 {
		return MonthName(d)
	}
	return DayName(d)
}

func FullLabel(d Date) string {
	return MonthName(d) + DayName(d)
}
