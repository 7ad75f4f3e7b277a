package rules

import "strings"

// Default reply literals. Clients depend on these strings; keep them byte-for-byte.
const (
	ReplyGreeting = "你好+1"
	ReplyFarewell = "再见，期待下次见面！"
	ReplyHelp     = "我是智能客服机器人，可以回答您的问题。发送'你好'试试看！"
	ReplyWeather  = "抱歉，我暂时无法提供天气信息，请查看天气预报应用。"
	ReplyTime     = "请查看您的设备时间，或者说'现在几点'获取当前时间。"
	ReplyPhone    = "检测到电话号码，请注意保护个人隐私信息。"
	ReplyEmail    = "检测到邮箱地址，请注意保护个人隐私信息。"

	ReplyServiceGreeting = "您好！很高兴为您服务，有什么可以帮助您的吗？"
	ReplyThanks          = "不客气！很高兴能帮助到您。"
	ReplyFeatures        = "我是智能客服机器人，可以：\n1. 回答常见问题\n2. 提供帮助信息\n3. 进行简单对话\n发送'帮助'了解更多功能。"
)

const (
	PhonePattern = `1[3-9]\d{9}`
	EmailPattern = `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`
)

// SmartQAName is the name of the default function rule.
const SmartQAName = "智能问答"

var (
	greetingWords = []string{"hi", "hello", "您好", "你好啊", "早上好", "下午好", "晚上好"}
	thanksWords   = []string{"谢谢", "感谢", "thank", "多谢"}
	featureWords  = []string{"功能", "能做什么", "怎么用", "使用方法"}
)

// DefaultRules returns the built-in pattern rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "问候回复", Matcher: Exact("你好"), Reply: ReplyGreeting},
		{Name: "再见回复", Matcher: Exact("再见"), Reply: ReplyFarewell},
		{Name: "帮助回复", Matcher: Exact("帮助"), Reply: ReplyHelp},

		{Name: "天气询问", Matcher: Contains("天气"), Reply: ReplyWeather},
		{Name: "时间询问", Matcher: Contains("时间"), Reply: ReplyTime},

		{Name: "电话号码", Matcher: MustRegex(PhonePattern), Reply: ReplyPhone},
		{Name: "邮箱地址", Matcher: MustRegex(EmailPattern), Reply: ReplyEmail},
	}
}

// SmartQA answers greetings, thanks and feature questions by substring match on the
// lowercased text, so "this" counts as a greeting.
func SmartQA(text string) (string, error) {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, greetingWords):
		return ReplyServiceGreeting, nil
	case containsAny(lower, thanksWords):
		return ReplyThanks, nil
	case containsAny(lower, featureWords):
		return ReplyFeatures, nil
	default:
		return "", nil
	}
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}

	return false
}
